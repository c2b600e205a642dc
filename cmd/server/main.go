package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"warden/internal/platform/config"
	"warden/internal/platform/logger"
)

// main loads configuration, wires the anti-abuse engine in front of the relay
// and keeps the server lifecycle small. Business logic lives in internal/abuse.
func main() {
	cfg := config.Load()
	log := logger.New()

	log.Info("initializing warden",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
		"upstream", cfg.Server.UpstreamURL != "",
		"redis", cfg.Redis.URL != "",
		"kafka", cfg.Kafka.Brokers != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("warden exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := app.cleanup.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if app.redis != nil {
		g.Go(func() error { return app.redis.RunPoolStats(gctx, 15*time.Second) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
