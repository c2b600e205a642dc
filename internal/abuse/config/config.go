package config

import "time"

// Config holds engine tuning that is not admin-editable.
type Config struct {
	Scoring ScoringConfig
	Limiter LimiterConfig
	Cleanup CleanupConfig
	Window  WindowConfig
}

// ScoringConfig tunes the abuse scorer.
type ScoringConfig struct {
	ModelSwitchIncrement float64       // added per model switch threshold crossing
	TestContentIncrement float64       // added per test content threshold crossing
	DecayPerMinute       float64       // linear decay applied lazily
	MaxScore             float64       // score ceiling
	HistorySize          int           // score increases kept per principal
	PrincipalCacheSize   int           // LRU bound on tracked principals
	PrincipalTTL         time.Duration // idle principals are forgotten after this
	LockTimeout          time.Duration // per-principal lock wait before failing open
	Shards               int
}

// LimiterConfig bounds the token buckets that enforce rate_limit penalties.
type LimiterConfig struct {
	CacheSize int
	TTL       time.Duration
}

// CleanupConfig drives the background sweep worker.
type CleanupConfig struct {
	Interval time.Duration
}

// WindowConfig bounds counter retention.
type WindowConfig struct {
	// MaxWindow is the largest configurable window; idle keys older than
	// this are dropped by the sweep.
	MaxWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		Scoring: ScoringConfig{
			ModelSwitchIncrement: 50,
			TestContentIncrement: 50,
			DecayPerMinute:       1,
			MaxScore:             100,
			HistorySize:          50,
			PrincipalCacheSize:   100_000,
			PrincipalTTL:         24 * time.Hour,
			LockTimeout:          50 * time.Millisecond,
			Shards:               64,
		},
		Limiter: LimiterConfig{
			CacheSize: 10_000,
			TTL:       10 * time.Minute,
		},
		Cleanup: CleanupConfig{
			Interval: time.Minute,
		},
		Window: WindowConfig{
			MaxWindow: 60 * time.Minute,
		},
	}
}
