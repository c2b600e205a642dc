// Package settings holds the live security settings snapshot.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/middleware/admin"
)

// Persister reads and writes the settings singleton. Load returns nil
// settings and no error when nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) (*models.SecuritySettings, error)
	Save(ctx context.Context, s models.SecuritySettings) error
}

// Store serves immutable snapshots. Readers load an atomic pointer; writers
// serialize on mu and swap in a fresh snapshot.
type Store struct {
	persister Persister
	current   atomic.Pointer[models.Snapshot]
	fallback  *models.Snapshot
	mu        sync.Mutex
	version   uint64
	clock     func() time.Time
	logger    *slog.Logger
	auditLog  *audit.Logger
	metrics   *metrics.Metrics
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditLogger(l *audit.Logger) Option {
	return func(s *Store) {
		s.auditLog = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a Store. A nil persister keeps settings in memory only.
func New(persister Persister, opts ...Option) *Store {
	if persister == nil {
		persister = NopPersister{}
	}
	s := &Store{
		persister: persister,
		clock:     time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	fallback := models.DefaultSecuritySettings()
	fallback.EnableAntiAbuse = false
	s.fallback = models.NewSnapshot(fallback, 0, s.clock())
	s.fallback.Fallback = true
	return s
}

// Get returns the current snapshot. Before any successful load it returns
// defaults with anti-abuse disabled.
func (s *Store) Get() *models.Snapshot {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	return s.fallback
}

// Set validates, persists and publishes cfg.
func (s *Store) Set(ctx context.Context, cfg models.SecuritySettings) (*models.Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persister.Save(ctx, cfg); err != nil {
		return nil, dErrors.Wrap(fmt.Errorf("%w: %w", models.ErrConfigUnavailable, err),
			dErrors.CodeUnavailable, "failed to save security settings")
	}
	snap := s.publishLocked(cfg)

	s.auditLog.Log(ctx, audit.EventSettingsUpdated,
		"actor", admin.GetAdminActorID(ctx),
		"version", snap.Version,
		"enable_anti_abuse", cfg.EnableAntiAbuse,
		"penalty_type", string(cfg.PenaltyType),
	)
	return snap, nil
}

// Load reads settings from the persister and publishes them. On failure the
// last good snapshot stays in place.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	seen := s.version
	s.mu.Unlock()

	loaded, err := s.persister.Load(ctx)
	if err == nil && loaded != nil {
		err = loaded.Validate()
	}
	if err != nil {
		s.metrics.IncrementSettingsRefreshFailures()
		s.logger.WarnContext(ctx, "security settings unavailable, keeping last known good",
			"error", err,
			"fallback", s.current.Load() == nil,
		)
		return &dErrors.Error{
			Code:    dErrors.CodeUnavailable,
			Message: "security settings unavailable",
			Err:     fmt.Errorf("%w: %w", models.ErrConfigUnavailable, err),
		}
	}

	cfg := models.DefaultSecuritySettings()
	if loaded != nil {
		cfg = *loaded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != seen {
		// A Set landed while the persister was being read; the read may be stale.
		return nil
	}
	if cur := s.current.Load(); cur != nil && cur.Settings == cfg {
		return nil
	}
	snap := s.publishLocked(cfg)
	s.logger.InfoContext(ctx, "security settings loaded",
		"version", snap.Version,
		"enable_anti_abuse", cfg.EnableAntiAbuse,
	)
	return nil
}

// Refresh re-reads the persister so changes saved by other instances are
// picked up.
func (s *Store) Refresh(ctx context.Context) error {
	return s.Load(ctx)
}

func (s *Store) publishLocked(cfg models.SecuritySettings) *models.Snapshot {
	s.version++
	snap := models.NewSnapshot(cfg, s.version, s.clock())
	s.current.Store(snap)
	return snap
}
