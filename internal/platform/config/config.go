package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	AdminToken      string
	UpstreamURL     string
	JWTSigningKey   string
	JWTIssuer       string
	ShutdownTimeout time.Duration
}

// Redis configures the optional shared window counter backend.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the optional audit event topic.
type Kafka struct {
	Brokers    string
	AuditTopic string
	Acks       string
}

// Settings selects where security settings are persisted. DatabaseURL wins
// over File when both are set.
type Settings struct {
	DatabaseURL     string
	File            string
	RefreshInterval time.Duration
}

// Config is the full process configuration.
type Config struct {
	Server   Server
	Redis    Redis
	Kafka    Kafka
	Settings Settings
}

// Load reads an optional .env file and then builds the config from the
// environment. A missing .env is not an error.
func Load(files ...string) Config {
	_ = godotenv.Load(files...)
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            getEnv("WARDEN_ADDR", ":8080"),
			Environment:     getEnv("WARDEN_ENV", "development"),
			AdminToken:      os.Getenv("ADMIN_TOKEN"),
			UpstreamURL:     os.Getenv("UPSTREAM_URL"),
			JWTSigningKey:   os.Getenv("JWT_SIGNING_KEY"),
			JWTIssuer:       os.Getenv("JWT_ISSUER"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 20),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 200*time.Millisecond),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 200*time.Millisecond),
		},
		Kafka: Kafka{
			Brokers:    strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "warden.audit"),
			Acks:       getEnv("KAFKA_ACKS", "all"),
		},
		Settings: Settings{
			DatabaseURL:     os.Getenv("DATABASE_URL"),
			File:            os.Getenv("SECURITY_SETTINGS_FILE"),
			RefreshInterval: getDuration("SETTINGS_REFRESH_INTERVAL", 30*time.Second),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}
