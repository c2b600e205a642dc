// Package cleanup runs periodic maintenance for the abuse engine: expired
// penalty sweep, idle window eviction and settings refresh.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/abuse/metrics"
)

// CleanupResult contains the results of a cleanup run.
type CleanupResult struct {
	PenaltiesSwept    int
	WindowsSwept      int
	TrackedPrincipals int
	SettingsRefreshed bool
	Duration          time.Duration
}

type PenaltySweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type WindowSweeper interface {
	Sweep(now time.Time, maxWindow time.Duration) int
}

type SettingsRefresher interface {
	Refresh(ctx context.Context) error
}

type PrincipalTracker interface {
	Tracked() int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithWindows sweeps idle counter keys older than maxWindow.
func WithWindows(w WindowSweeper, maxWindow time.Duration) Option {
	return func(s *Service) {
		s.windows = w
		if maxWindow > 0 {
			s.maxWindow = maxWindow
		}
	}
}

func WithSettings(r SettingsRefresher) Option {
	return func(s *Service) {
		s.settings = r
	}
}

func WithTracker(t PrincipalTracker) Option {
	return func(s *Service) {
		s.tracker = t
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

type Service struct {
	penalties PenaltySweeper
	windows   WindowSweeper
	settings  SettingsRefresher
	tracker   PrincipalTracker
	logger    *slog.Logger
	interval  time.Duration
	maxWindow time.Duration
	clock     func() time.Time
	metrics   *metrics.Metrics
}

func New(penalties PenaltySweeper, opts ...Option) *Service {
	service := &Service{
		penalties: penalties,
		logger:    slog.Default(),
		interval:  time.Minute,
		maxWindow: 60 * time.Minute,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			startTime := time.Now()
			res, err := s.RunOnce(ctx)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Error("abuse_cleanup_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				s.metrics.IncrementCleanupRuns("error")
				s.metrics.ObserveCleanupDuration(duration.Seconds())
				continue
			}

			res.Duration = duration
			s.logger.Info("abuse_cleanup_completed",
				"penalties_swept", res.PenaltiesSwept,
				"windows_swept", res.WindowsSwept,
				"tracked_principals", res.TrackedPrincipals,
				"settings_refreshed", res.SettingsRefreshed,
				"duration_ms", duration.Milliseconds(),
			)
			s.metrics.IncrementCleanupRuns("success")
			s.metrics.ObserveCleanupDuration(duration.Seconds())

		case <-ctx.Done():
			s.logger.Info("abuse cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single cleanup run. Logging is handled by the caller (Start).
// A failed settings refresh keeps the last good snapshot and does not fail the run.
func (s *Service) RunOnce(ctx context.Context) (*CleanupResult, error) {
	res := &CleanupResult{}
	now := s.clock()

	if s.settings != nil {
		if err := s.settings.Refresh(ctx); err != nil {
			s.logger.WarnContext(ctx, "security settings refresh failed", "error", err)
		} else {
			res.SettingsRefreshed = true
		}
	}

	if s.penalties != nil {
		swept, err := s.penalties.Sweep(ctx, now)
		if err != nil {
			return nil, err
		}
		res.PenaltiesSwept = swept
	}

	if s.windows != nil {
		res.WindowsSwept = s.windows.Sweep(now, s.maxWindow)
	}

	if s.tracker != nil {
		res.TrackedPrincipals = s.tracker.Tracked()
		s.metrics.SetTrackedPrincipals(res.TrackedPrincipals)
	}

	s.metrics.AddCleanupSwept(res.PenaltiesSwept, res.WindowsSwept)
	return res, nil
}
