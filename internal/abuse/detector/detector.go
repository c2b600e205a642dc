// Package detector runs the per-request anti-abuse pipeline and turns its
// outcome into an allow/deny decision.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	"warden/internal/abuse/scoring"
	"warden/internal/abuse/whitelist"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/tracer"
)

// Check outcomes recorded on the checks metric.
const (
	OutcomeDisabled    = "disabled"
	OutcomeWhitelisted = "whitelisted"
	OutcomeAllowed     = "allowed"
	OutcomeBlocked     = "blocked"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailOpen    = "fail_open"
)

const spanCheck = "abuse.check"

// SettingsSource returns the current settings snapshot.
type SettingsSource interface {
	Get() *models.Snapshot
}

// Scorer is the scoring surface the detector drives.
type Scorer interface {
	ObserveModel(ctx context.Context, p models.Principal, model string, snap *models.Snapshot) (models.ScoreResult, error)
	OnRequestContent(ctx context.Context, p models.Principal, content string, snap *models.Snapshot) (models.ScoreResult, error)
	CurrentScore(ctx context.Context, tokenID string) float64
	Inspect(ctx context.Context, tokenID string) (scoring.Snapshot, bool, error)
}

// Penalties consults the penalty engine.
type Penalties interface {
	Status(ctx context.Context, tokenID string) (models.PenaltyStatus, error)
}

type Detector struct {
	settings  SettingsSource
	scorer    Scorer
	penalties Penalties
	logger    *slog.Logger
	auditLog  *audit.Logger
	metrics   *metrics.Metrics
	tracer    tracer.Tracer
}

type Option func(*Detector)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithAuditLogger(l *audit.Logger) Option {
	return func(d *Detector) {
		d.auditLog = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(d *Detector) {
		if t != nil {
			d.tracer = t
		}
	}
}

func New(settings SettingsSource, scorer Scorer, penalties Penalties, opts ...Option) (*Detector, error) {
	if settings == nil || scorer == nil || penalties == nil {
		return nil, fmt.Errorf("settings, scorer and penalties are required")
	}
	d := &Detector{
		settings:  settings,
		scorer:    scorer,
		penalties: penalties,
		logger:    slog.Default(),
		tracer:    tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// CheckRequest observes one request and decides whether it may proceed.
// Internal failures never deny a request.
func (d *Detector) CheckRequest(ctx context.Context, p models.Principal, model, content string) models.Decision {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, spanCheck,
		tracer.String("token", tracer.HashID(p.TokenID)),
		tracer.String("model", model),
	)
	decision, outcome := d.check(ctx, p, model, content)
	span.SetAttributes(
		tracer.String("outcome", outcome),
		tracer.Bool("allowed", decision.Allowed),
		tracer.Float64("score", decision.Score),
	)
	span.End(nil)

	d.metrics.IncrementCheck(outcome)
	d.metrics.ObserveCheckDuration(time.Since(start).Seconds())
	return decision
}

func (d *Detector) check(ctx context.Context, p models.Principal, model, content string) (models.Decision, string) {
	snap := d.settings.Get()
	if snap == nil || !snap.Settings.EnableAntiAbuse {
		return models.Decision{Allowed: true}, OutcomeDisabled
	}
	if whitelist.IsWhitelisted(p, snap) {
		return models.Decision{Allowed: true, Whitelisted: true}, OutcomeWhitelisted
	}

	status, err := d.penalties.Status(ctx, p.TokenID)
	if err != nil {
		d.logger.ErrorContext(ctx, "penalty lookup failed, allowing request",
			"token_id", p.TokenID,
			"error", err,
		)
		return models.Decision{Allowed: true}, OutcomeFailOpen
	}
	if status.Active {
		decision, outcome := d.enforce(status, d.scorer.CurrentScore(ctx, p.TokenID))
		d.logBlocked(ctx, p, decision)
		return decision, outcome
	}

	if model == "" && content == "" {
		// Not an inference request, or the body could not be inspected.
		return models.Decision{Allowed: true, Score: d.scorer.CurrentScore(ctx, p.TokenID)}, OutcomeAllowed
	}

	steps := []func() (models.ScoreResult, error){
		func() (models.ScoreResult, error) { return d.scorer.ObserveModel(ctx, p, model, snap) },
	}
	// Image-only messages and token-array inputs carry no text to classify.
	if content != "" {
		steps = append(steps, func() (models.ScoreResult, error) { return d.scorer.OnRequestContent(ctx, p, content, snap) })
	}

	failedOpen := false
	score := 0.0
	penalized := false
	for _, step := range steps {
		res, err := step()
		if err != nil {
			failedOpen = true
			if !dErrors.HasCode(err, dErrors.CodeTimeout) {
				d.logger.ErrorContext(ctx, "abuse scoring failed, allowing request",
					"token_id", p.TokenID,
					"error", err,
				)
			}
			continue
		}
		score = max(score, res.Score)
		penalized = penalized || res.Penalized
	}

	if penalized {
		status, err := d.penalties.Status(ctx, p.TokenID)
		if err == nil && status.Active {
			decision, outcome := d.enforce(status, score)
			d.auditLog.Log(ctx, audit.EventRequestBlocked,
				"token_id", p.TokenID,
				"user_id", p.UserID,
				"penalty_type", string(status.Penalty.PenaltyType),
				"score", score,
			)
			d.logBlocked(ctx, p, decision)
			return decision, outcome
		}
	}

	if failedOpen {
		return models.Decision{Allowed: true, Score: score}, OutcomeFailOpen
	}
	return models.Decision{Allowed: true, Score: score}, OutcomeAllowed
}

func (d *Detector) enforce(status models.PenaltyStatus, score float64) (models.Decision, string) {
	p := status.Penalty
	decision := models.Decision{
		Score:      score,
		Penalty:    p,
		RetryAfter: time.Duration(status.RetryAfterSeconds) * time.Second,
	}
	if p.PenaltyType == models.PenaltyRateLimit {
		decision.Allowed = true
		decision.RateLimitRPM = p.RateLimitRPM
		decision.Message = fmt.Sprintf("token is rate limited to %d requests per minute", p.RateLimitRPM)
		return decision, OutcomeRateLimited
	}
	decision.Message = blockedMessage(p)
	d.metrics.IncrementBlocked(string(p.PenaltyType))
	return decision, OutcomeBlocked
}

func blockedMessage(p *models.Penalty) string {
	if p.PenaltyType == models.PenaltyPermBan {
		return "token has been permanently banned due to abusive usage"
	}
	return "token is temporarily banned due to abusive usage"
}

func (d *Detector) logBlocked(ctx context.Context, p models.Principal, decision models.Decision) {
	if decision.Allowed {
		return
	}
	d.logger.InfoContext(ctx, "request blocked by abuse penalty",
		"token_id", p.TokenID,
		"penalty_type", string(decision.Penalty.PenaltyType),
		"retry_after_seconds", int(decision.RetryAfter/time.Second),
	)
}

// Info assembles the admin view of a token's abuse state.
func (d *Detector) Info(ctx context.Context, tokenID string) (*models.AbuseInfo, error) {
	snap := d.settings.Get()
	state, _, err := d.scorer.Inspect(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	status, err := d.penalties.Status(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	info := &models.AbuseInfo{
		TokenID:   tokenID,
		Score:     state.Score,
		State:     models.StateClear,
		LastModel: state.LastModel,
		History:   state.History,
		Status:    status,
	}
	switch {
	case status.Active:
		info.State = models.StatePenalized
	case snap != nil && state.Score >= float64(snap.Settings.AbuseScoreWarningThreshold):
		info.State = models.StateWarned
	}
	return info, nil
}
