// Package scoring accumulates per-principal abuse scores from windowed
// event counts and escalates to the penalty engine.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"warden/internal/abuse/classifier"
	"warden/internal/abuse/config"
	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	"warden/internal/abuse/whitelist"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/middleware/requesttime"
	psync "warden/pkg/platform/sync"
)

// Counter counts events per key inside a trailing window.
type Counter interface {
	Record(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

// PenaltyApplier is invoked when a score reaches the action threshold.
type PenaltyApplier interface {
	Apply(ctx context.Context, p models.Principal, score float64, reason string, snap *models.Snapshot) (*models.Penalty, bool, error)
}

type principalState struct {
	score     float64
	updatedAt time.Time
	lastModel string
	history   []models.ScoreIncrease
}

// Scorer owns principal state. Each principal is mutated under its shard
// lock; idle principals fall out of the LRU after PrincipalTTL.
type Scorer struct {
	cfg      config.ScoringConfig
	counter  Counter
	applier  PenaltyApplier
	states   *lru.LRU[string, *principalState]
	locks    *psync.ShardedMutex
	clock    requesttime.Clock
	logger   *slog.Logger
	auditLog *audit.Logger
	metrics  *metrics.Metrics
}

type Option func(*Scorer)

func WithConfig(cfg config.ScoringConfig) Option {
	return func(s *Scorer) {
		s.cfg = cfg
	}
}

func WithPenaltyApplier(a PenaltyApplier) Option {
	return func(s *Scorer) {
		s.applier = a
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditLogger(l *audit.Logger) Option {
	return func(s *Scorer) {
		s.auditLog = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scorer) {
		s.metrics = m
	}
}

func WithClock(clock requesttime.Clock) Option {
	return func(s *Scorer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(counter Counter, opts ...Option) (*Scorer, error) {
	if counter == nil {
		return nil, fmt.Errorf("window counter is required")
	}
	s := &Scorer{
		cfg:     config.DefaultConfig().Scoring,
		counter: counter,
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.states = lru.NewLRU[string, *principalState](s.cfg.PrincipalCacheSize, nil, s.cfg.PrincipalTTL)
	s.locks = psync.NewShardedMutex(s.cfg.Shards)
	return s, nil
}

func counterKey(kind models.EventKind, tokenID string) string {
	return string(kind) + ":" + tokenID
}

func (s *Scorer) lock(ctx context.Context, tokenID string) (func(), error) {
	unlock, err := s.locks.LockTimeout(ctx, tokenID, s.cfg.LockTimeout)
	if err != nil {
		s.metrics.IncrementLockTimeouts()
		s.logger.WarnContext(ctx, "abuse scorer lock timeout, failing open",
			"token_id", tokenID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "principal lock timeout")
	}
	return unlock, nil
}

// state returns the principal's state with decay applied up to now.
// Caller holds the principal lock.
func (s *Scorer) state(tokenID string, now time.Time) *principalState {
	st, ok := s.states.Get(tokenID)
	if !ok {
		st = &principalState{updatedAt: now}
		s.states.Add(tokenID, st)
		return st
	}
	st.score, st.updatedAt = s.decay(st.score, st.updatedAt, now)
	return st
}

// decay subtracts DecayPerMinute for every whole minute elapsed since the
// anchor and returns the new score and anchor. The anchor only advances by
// the minutes consumed so partial minutes carry over.
func (s *Scorer) decay(score float64, since, now time.Time) (float64, time.Time) {
	if !now.After(since) {
		return score, since
	}
	if score <= 0 {
		return 0, now
	}
	if s.cfg.DecayPerMinute <= 0 {
		return score, since
	}
	minutes := math.Floor(now.Sub(since).Minutes())
	if minutes < 1 {
		return score, since
	}
	score = math.Max(0, score-s.cfg.DecayPerMinute*minutes)
	return score, since.Add(time.Duration(minutes) * time.Minute)
}

func (s *Scorer) decayedScore(st *principalState, now time.Time) float64 {
	score, _ := s.decay(st.score, st.updatedAt, now)
	return score
}

// ObserveModel tracks the last requested model and records a switch when it
// changes.
func (s *Scorer) ObserveModel(ctx context.Context, p models.Principal, model string, snap *models.Snapshot) (models.ScoreResult, error) {
	if model == "" || whitelist.IsWhitelisted(p, snap) {
		return models.ScoreResult{}, nil
	}
	unlock, err := s.lock(ctx, p.TokenID)
	if err != nil {
		return models.ScoreResult{}, err
	}

	now := requesttime.NowOr(ctx, s.clock)
	st := s.state(p.TokenID, now)
	from := st.lastModel
	st.lastModel = model
	if from == "" || from == model {
		score := st.score
		unlock()
		return models.ScoreResult{Score: score}, nil
	}
	res, err := s.recordLocked(ctx, p, st, models.EventModelSwitch, now, snap)
	unlock()
	return s.settle(ctx, p, res, err, snap)
}

// OnModelSwitch records a model switch for p and scores a threshold crossing.
func (s *Scorer) OnModelSwitch(ctx context.Context, p models.Principal, from, to string, snap *models.Snapshot) (models.ScoreResult, error) {
	if whitelist.IsWhitelisted(p, snap) {
		return models.ScoreResult{}, nil
	}
	unlock, err := s.lock(ctx, p.TokenID)
	if err != nil {
		return models.ScoreResult{}, err
	}

	now := requesttime.NowOr(ctx, s.clock)
	st := s.state(p.TokenID, now)
	st.lastModel = to
	s.logger.DebugContext(ctx, "model switch", "token_id", p.TokenID, "from", from, "to", to)
	res, err := s.recordLocked(ctx, p, st, models.EventModelSwitch, now, snap)
	unlock()
	return s.settle(ctx, p, res, err, snap)
}

// OnRequestContent classifies content and records it when it is test content.
func (s *Scorer) OnRequestContent(ctx context.Context, p models.Principal, content string, snap *models.Snapshot) (models.ScoreResult, error) {
	if whitelist.IsWhitelisted(p, snap) {
		return models.ScoreResult{}, nil
	}
	verdict := classifier.Classify(content, snap)
	if !verdict.IsTest {
		return models.ScoreResult{Score: s.CurrentScore(ctx, p.TokenID)}, nil
	}
	unlock, err := s.lock(ctx, p.TokenID)
	if err != nil {
		return models.ScoreResult{}, err
	}

	now := requesttime.NowOr(ctx, s.clock)
	st := s.state(p.TokenID, now)
	s.logger.DebugContext(ctx, "test content detected",
		"token_id", p.TokenID,
		"reason", verdict.Reason,
		"matched_pattern", verdict.MatchedPattern,
		"length", verdict.Length,
	)
	res, err := s.recordLocked(ctx, p, st, models.EventTestContent, now, snap)
	unlock()
	return s.settle(ctx, p, res, err, snap)
}

func (s *Scorer) recordLocked(ctx context.Context, p models.Principal, st *principalState, kind models.EventKind, now time.Time, snap *models.Snapshot) (models.ScoreResult, error) {
	window, threshold, delta, reason := s.rule(kind, snap)
	key := counterKey(kind, p.TokenID)

	count, err := s.counter.Record(ctx, key, now, window)
	if err != nil {
		return models.ScoreResult{Score: st.score}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record event")
	}
	if count <= threshold {
		return models.ScoreResult{Score: st.score}, nil
	}
	// One increment per crossing: the window starts over.
	if err := s.counter.Reset(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to reset window", "key", key, "error", err)
	}
	return s.increaseLocked(ctx, p, st, reason, delta, now, snap), nil
}

func (s *Scorer) rule(kind models.EventKind, snap *models.Snapshot) (time.Duration, int, float64, models.Reason) {
	if kind == models.EventModelSwitch {
		return snap.ModelSwitchWindow(), snap.Settings.ModelSwitchThreshold, s.cfg.ModelSwitchIncrement, models.ReasonModelSwitch
	}
	return snap.TestContentWindow(), snap.Settings.TestContentThreshold, s.cfg.TestContentIncrement, models.ReasonTestContent
}

func (s *Scorer) increaseLocked(ctx context.Context, p models.Principal, st *principalState, reason models.Reason, delta float64, now time.Time, snap *models.Snapshot) models.ScoreResult {
	prev := st.score
	st.score = prev + delta
	if s.cfg.MaxScore > 0 && st.score > s.cfg.MaxScore {
		st.score = s.cfg.MaxScore
	}
	st.history = append(st.history, models.ScoreIncrease{Reason: reason, Delta: delta, Score: st.score, At: now})
	if n := len(st.history) - s.cfg.HistorySize; s.cfg.HistorySize > 0 && n > 0 {
		st.history = append(st.history[:0:0], st.history[n:]...)
	}

	result := models.ScoreResult{Score: st.score, Increased: true, Reason: reason}
	s.metrics.IncrementScore(string(reason))
	s.auditLog.Log(ctx, audit.EventScoreIncreased,
		"token_id", p.TokenID,
		"user_id", p.UserID,
		"reason", string(reason),
		"score", st.score,
		"delta", delta,
	)

	warn := float64(snap.Settings.AbuseScoreWarningThreshold)
	if prev < warn && st.score >= warn {
		result.Warned = true
		s.metrics.IncrementWarnings()
		s.auditLog.Log(ctx, audit.EventAbuseWarning,
			"token_id", p.TokenID,
			"user_id", p.UserID,
			"reason", string(reason),
			"score", st.score,
		)
		s.logger.WarnContext(ctx, "abuse score crossed warning threshold",
			"token_id", p.TokenID,
			"score", st.score,
			"threshold", snap.Settings.AbuseScoreWarningThreshold,
		)
	}

	return result
}

// settle applies a penalty when an increment reached the action threshold.
// It runs after the principal lock is released; Apply is idempotent per
// token, so concurrent crossings create at most one penalty.
func (s *Scorer) settle(ctx context.Context, p models.Principal, res models.ScoreResult, err error, snap *models.Snapshot) (models.ScoreResult, error) {
	if err != nil || !res.Increased || s.applier == nil {
		return res, err
	}
	if res.Score < float64(snap.Settings.AbuseScoreActionThreshold) {
		return res, nil
	}
	_, created, applyErr := s.applier.Apply(ctx, p, res.Score, string(res.Reason), snap)
	if applyErr != nil {
		s.logger.ErrorContext(ctx, "failed to apply penalty",
			"token_id", p.TokenID,
			"score", res.Score,
			"error", applyErr,
		)
		return res, nil
	}
	res.Penalized = created
	return res, nil
}

// CurrentScore returns tokenID's decayed score without mutating state.
func (s *Scorer) CurrentScore(ctx context.Context, tokenID string) float64 {
	st, ok := s.states.Peek(tokenID)
	if !ok {
		return 0
	}
	unlock, err := s.lock(ctx, tokenID)
	if err != nil {
		return 0
	}
	defer unlock()
	return s.decayedScore(st, requesttime.NowOr(ctx, s.clock))
}

// Snapshot is a read-only copy of a principal's scoring state.
type Snapshot struct {
	Score     float64
	LastModel string
	History   []models.ScoreIncrease
}

// Inspect returns tokenID's scoring state; ok is false for unknown principals.
func (s *Scorer) Inspect(ctx context.Context, tokenID string) (Snapshot, bool, error) {
	st, ok := s.states.Peek(tokenID)
	if !ok {
		return Snapshot{History: []models.ScoreIncrease{}}, false, nil
	}
	unlock, err := s.lock(ctx, tokenID)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer unlock()
	history := make([]models.ScoreIncrease, len(st.history))
	copy(history, st.history)
	return Snapshot{
		Score:     s.decayedScore(st, requesttime.NowOr(ctx, s.clock)),
		LastModel: st.lastModel,
		History:   history,
	}, true, nil
}

// Forget drops tokenID's score and windows. Used after a penalty is lifted so
// the principal starts over from Clear.
func (s *Scorer) Forget(ctx context.Context, tokenID string) error {
	unlock, err := s.lock(ctx, tokenID)
	if err != nil {
		return err
	}
	defer unlock()
	s.states.Remove(tokenID)
	for _, kind := range []models.EventKind{models.EventModelSwitch, models.EventTestContent} {
		if err := s.counter.Reset(ctx, counterKey(kind, tokenID)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset window")
		}
	}
	return nil
}

// Tracked returns the number of principals currently held in memory.
func (s *Scorer) Tracked() int {
	return s.states.Len()
}
