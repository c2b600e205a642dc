// Package penalty owns the penalty lifecycle: apply, consult, lift, expire.
package penalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	penaltyStore "warden/internal/abuse/store/penalty"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/middleware/requesttime"
	psync "warden/pkg/platform/sync"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Store persists penalty records.
type Store interface {
	GetActive(ctx context.Context, tokenID string, now time.Time) (*models.Penalty, error)
	Create(ctx context.Context, p *models.Penalty) error
	Lift(ctx context.Context, tokenID string, at time.Time, liftedBy string) (*models.Penalty, error)
	ListActive(ctx context.Context, now time.Time, offset, limit int) ([]*models.Penalty, int, error)
	History(ctx context.Context, tokenID string, offset, limit int) ([]*models.Penalty, int, error)
	SweepActive(ctx context.Context, now time.Time) (removed, remaining int, err error)
}

// Engine applies and consults penalties. Lookups on the request path are
// served from a short-lived local cache so the store is not hit per request.
type Engine struct {
	store    Store
	locks    *psync.ShardedMutex
	cache    *lru.LRU[string, *models.Penalty]
	cacheTTL time.Duration
	clock    requesttime.Clock
	logger   *slog.Logger
	auditLog *audit.Logger
	metrics  *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithAuditLogger(l *audit.Logger) Option {
	return func(e *Engine) {
		e.auditLog = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source used when no request time is in context.
func WithClock(clock requesttime.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithCacheTTL sets how long consult results are cached. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = ttl
	}
}

func New(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("penalty store is required")
	}
	e := &Engine{
		store:    store,
		locks:    psync.NewShardedMutex(0),
		cacheTTL: 5 * time.Second,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cacheTTL > 0 {
		e.cache = lru.NewLRU[string, *models.Penalty](10_000, nil, e.cacheTTL)
	}
	return e, nil
}

func (e *Engine) now(ctx context.Context) time.Time {
	return requesttime.NowOr(ctx, e.clock)
}

// Apply records a penalty of the configured type unless one is already
// active, in which case the existing record is returned and created is false.
func (e *Engine) Apply(ctx context.Context, p models.Principal, score float64, reason string, snap *models.Snapshot) (penalty *models.Penalty, created bool, err error) {
	if snap == nil {
		return nil, false, dErrors.New(dErrors.CodeInternal, "security settings snapshot is required")
	}
	e.locks.Lock(p.TokenID)
	defer e.locks.Unlock(p.TokenID)

	now := e.now(ctx)
	existing, err := e.store.GetActive(ctx, p.TokenID, now)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active penalty")
	}
	if existing != nil {
		e.remember(p.TokenID, existing)
		return existing, false, nil
	}

	penalty = build(p, score, reason, snap, now)
	if err := e.store.Create(ctx, penalty); err != nil {
		if errors.Is(err, penaltyStore.ErrActiveExists) {
			// Another instance won the race.
			existing, getErr := e.store.GetActive(ctx, p.TokenID, now)
			if getErr != nil {
				return nil, false, dErrors.Wrap(getErr, dErrors.CodeInternal, "failed to load active penalty")
			}
			e.remember(p.TokenID, existing)
			return existing, false, nil
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create penalty")
	}

	e.remember(p.TokenID, penalty)
	e.metrics.IncrementPenaltyApplied(string(penalty.PenaltyType))
	e.auditLog.Log(ctx, audit.EventPenaltyApplied,
		"token_id", p.TokenID,
		"user_id", p.UserID,
		"penalty_type", string(penalty.PenaltyType),
		"reason", reason,
		"score", score,
		"penalty_id", penalty.ID,
		"end_time", penalty.EndTime,
	)
	return penalty, true, nil
}

func build(p models.Principal, score float64, reason string, snap *models.Snapshot, now time.Time) *models.Penalty {
	penalty := &models.Penalty{
		ID:          uuid.NewString(),
		TokenID:     p.TokenID,
		TokenName:   p.TokenName,
		UserID:      p.UserID,
		PenaltyType: snap.Settings.PenaltyType,
		Reason:      reason,
		AbuseScore:  score,
		StartTime:   now,
	}
	switch penalty.PenaltyType {
	case models.PenaltyTempBan:
		end := now.Add(snap.TempBanDuration())
		penalty.EndTime = &end
	case models.PenaltyRateLimit:
		penalty.RateLimitRPM = snap.Settings.RateLimitRequests
	}
	return penalty
}

// IsActive reports whether tokenID has a penalty in force at now.
func (e *Engine) IsActive(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	p, err := e.active(ctx, tokenID, now)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// Status returns the active penalty for tokenID, if any, with the time
// remaining until it ends.
func (e *Engine) Status(ctx context.Context, tokenID string) (models.PenaltyStatus, error) {
	now := e.now(ctx)
	p, err := e.active(ctx, tokenID, now)
	if err != nil {
		return models.PenaltyStatus{}, err
	}
	if p == nil {
		return models.PenaltyStatus{}, nil
	}
	return models.PenaltyStatus{
		Active:            true,
		Penalty:           p,
		RetryAfterSeconds: retryAfterSeconds(p.RetryAfter(now)),
	}, nil
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

func (e *Engine) active(ctx context.Context, tokenID string, now time.Time) (*models.Penalty, error) {
	if e.cache != nil {
		if p, ok := e.cache.Get(tokenID); ok {
			if p.IsActive(now) {
				return p, nil
			}
			if p == nil {
				return nil, nil
			}
		}
	}
	p, err := e.store.GetActive(ctx, tokenID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active penalty")
	}
	e.remember(tokenID, p)
	return p, nil
}

func (e *Engine) remember(tokenID string, p *models.Penalty) {
	if e.cache != nil {
		e.cache.Add(tokenID, p)
	}
}

// Lift ends tokenID's active penalty immediately.
func (e *Engine) Lift(ctx context.Context, tokenID, liftedBy string) (*models.Penalty, error) {
	e.locks.Lock(tokenID)
	defer e.locks.Unlock(tokenID)

	now := e.now(ctx)
	p, err := e.store.Lift(ctx, tokenID, now, liftedBy)
	if err != nil {
		if errors.Is(err, penaltyStore.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no active penalty for token %s", tokenID))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lift penalty")
	}
	e.remember(tokenID, nil)
	e.metrics.IncrementPenaltyLifted()
	e.auditLog.Log(ctx, audit.EventPenaltyLifted,
		"token_id", tokenID,
		"actor", liftedBy,
		"penalty_type", string(p.PenaltyType),
		"penalty_id", p.ID,
	)
	return p, nil
}

// NormalizePage clamps page and pageSize to valid values.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// List returns active penalties, newest first.
func (e *Engine) List(ctx context.Context, page, pageSize int) (*models.PenaltyPage, error) {
	page, pageSize = NormalizePage(page, pageSize)
	items, total, err := e.store.ListActive(ctx, e.now(ctx), (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list penalties")
	}
	return &models.PenaltyPage{Penalties: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// History returns every penalty ever recorded for tokenID, newest first.
func (e *Engine) History(ctx context.Context, tokenID string, page, pageSize int) (*models.PenaltyPage, error) {
	page, pageSize = NormalizePage(page, pageSize)
	items, total, err := e.store.History(ctx, tokenID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load penalty history")
	}
	return &models.PenaltyPage{Penalties: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Sweep removes expired and lifted penalties from the active index.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed, remaining, err := e.store.SweepActive(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sweep penalties")
	}
	e.metrics.SetActivePenalties(remaining)
	if removed > 0 {
		e.auditLog.Log(ctx, audit.EventPenaltySwept, "count", removed)
	}
	return removed, nil
}
