package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	abuseconfig "warden/internal/abuse/config"
	"warden/internal/abuse/detector"
	abusehandler "warden/internal/abuse/handler"
	"warden/internal/abuse/metrics"
	abusemw "warden/internal/abuse/middleware"
	"warden/internal/abuse/penalty"
	"warden/internal/abuse/scoring"
	"warden/internal/abuse/settings"
	penaltystore "warden/internal/abuse/store/penalty"
	windowstore "warden/internal/abuse/store/window"
	"warden/internal/abuse/window"
	"warden/internal/abuse/workers/cleanup"
	"warden/internal/platform/config"
	"warden/internal/platform/database"
	"warden/internal/platform/health"
	"warden/internal/platform/kafka/producer"
	"warden/internal/platform/redis"
	"warden/internal/relay"
	"warden/migrations"
	"warden/pkg/platform/audit"
	auditpublisher "warden/pkg/platform/audit/publisher"
	auditstore "warden/pkg/platform/audit/store/memory"
	"warden/pkg/platform/circuit"
	adminmw "warden/pkg/platform/middleware/admin"
	authmw "warden/pkg/platform/middleware/auth"
	request "warden/pkg/platform/middleware/request"
	"warden/pkg/platform/middleware/requesttime"
	"warden/pkg/platform/tracer"
)

// app holds everything main needs to run and tear down.
type app struct {
	router  http.Handler
	cleanup *cleanup.Service
	redis   *redis.Client
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	engineCfg := abuseconfig.DefaultConfig()
	m := metrics.New()
	healthHandler := health.New(cfg.Server.Environment)

	// Infrastructure. Every backend is optional; absent ones fall back to
	// in-process state.
	db, err := database.New(ctx, databaseConfig(cfg))
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		healthHandler.RegisterCheck("postgres", db.Health)
		applied, err := database.Migrate(ctx, db.DB(), migrations.FS)
		if err != nil {
			a.close()
			return nil, err
		}
		if len(applied) > 0 {
			log.Info("database migrations applied", "versions", applied)
		}
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		a.close()
		return nil, err
	}
	if rdb != nil {
		a.redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		healthHandler.RegisterCheck("redis", rdb.Health)
	}

	auditLog, err := buildAudit(cfg, log, a, healthHandler)
	if err != nil {
		a.close()
		return nil, err
	}

	// Settings
	var persister settings.Persister = settings.NopPersister{}
	switch {
	case db != nil:
		persister = settings.NewPostgresPersister(db.DB())
	case cfg.Settings.File != "":
		persister = settings.NewFilePersister(cfg.Settings.File)
	}
	settingsStore := settings.New(persister,
		settings.WithLogger(log),
		settings.WithAuditLogger(auditLog),
		settings.WithMetrics(m),
	)
	if err := settingsStore.Load(ctx); err != nil {
		log.Warn("security settings unavailable at startup, anti-abuse disabled until refresh", "error", err)
	}

	// Penalties
	var store penalty.Store = penaltystore.New()
	if db != nil {
		store = penaltystore.NewPostgres(db.DB())
	}
	engine, err := penalty.New(store,
		penalty.WithLogger(log),
		penalty.WithAuditLogger(auditLog),
		penalty.WithMetrics(m),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	// Counters
	local := window.New()
	var counter scoring.Counter = local
	if rdb != nil {
		breaker := circuit.New("redis-window", circuit.WithOnStateChange(func(name string, to circuit.State) {
			m.SetCircuitOpen(name, to == circuit.StateOpen)
			log.Warn("circuit state changed", "name", name, "state", to.String())
		}))
		counter, err = windowstore.NewRedis(rdb.Client, local,
			windowstore.WithLogger(log),
			windowstore.WithBreaker(breaker),
		)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	scorer, err := scoring.New(counter,
		scoring.WithConfig(engineCfg.Scoring),
		scoring.WithPenaltyApplier(engine),
		scoring.WithLogger(log),
		scoring.WithAuditLogger(auditLog),
		scoring.WithMetrics(m),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	det, err := detector.New(settingsStore, scorer, engine,
		detector.WithLogger(log),
		detector.WithAuditLogger(auditLog),
		detector.WithMetrics(m),
		detector.WithTracer(tracer.NewOTel()),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	a.cleanup = cleanup.New(engine,
		cleanup.WithWindows(local, engineCfg.Window.MaxWindow),
		cleanup.WithSettings(settingsStore),
		cleanup.WithTracker(scorer),
		cleanup.WithInterval(engineCfg.Cleanup.Interval),
		cleanup.WithLogger(log),
		cleanup.WithMetrics(m),
	)

	// HTTP
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log, request.NewMetrics()))

	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	admin := abusehandler.New(settingsStore, engine, det, log).WithScoreResetter(scorer)
	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(cfg.Server.AdminToken, log))
		admin.RegisterAdmin(r)
	})

	if err := mountRelay(r, cfg, log, det, settingsStore, engineCfg, m); err != nil {
		a.close()
		return nil, err
	}

	a.router = r
	return a, nil
}

func databaseConfig(cfg config.Config) database.Config {
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.Settings.DatabaseURL
	return dbCfg
}

// buildAudit routes audit events to Kafka when brokers are configured and to
// an in-memory store otherwise.
func buildAudit(cfg config.Config, log *slog.Logger, a *app, h *health.Handler) (*audit.Logger, error) {
	var sink audit.Sink = auditstore.NewInMemoryStore()
	if cfg.Kafka.Brokers != "" {
		p, err := producer.New(producer.Config{
			Brokers: cfg.Kafka.Brokers,
			Acks:    cfg.Kafka.Acks,
		}, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = p.Close() })
		h.RegisterCheck("kafka", p.Health)
		sink = producer.NewAuditSink(p, cfg.Kafka.AuditTopic)
	}
	pub := auditpublisher.NewPublisher(sink,
		auditpublisher.WithAsyncBuffer(1024),
		auditpublisher.WithPublisherLogger(log),
	)
	a.closers = append(a.closers, pub.Close)
	return audit.NewLogger(log, pub), nil
}

func mountRelay(r chi.Router, cfg config.Config, log *slog.Logger, checker abusemw.Checker,
	src relay.SettingsSource, engineCfg *abuseconfig.Config, m *metrics.Metrics,
) error {
	if cfg.Server.UpstreamURL == "" {
		log.Warn("UPSTREAM_URL not set, relay routes disabled")
		return nil
	}
	validator, err := authmw.NewJWTValidator(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)
	if err != nil {
		return fmt.Errorf("relay auth: %w", err)
	}
	proxy, err := relay.New(cfg.Server.UpstreamURL, src, relay.WithLogger(log))
	if err != nil {
		return err
	}
	guard := abusemw.New(checker,
		abusemw.WithLogger(log),
		abusemw.WithMetrics(m),
		abusemw.WithLimiterConfig(engineCfg.Limiter),
	)
	r.Route("/v1", func(r chi.Router) {
		r.Use(authmw.RequireToken(validator, log))
		r.Use(guard.Handler)
		r.Handle("/*", proxy)
	})
	return nil
}
