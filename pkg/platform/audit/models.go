package audit

import (
	"context"
	"time"
)

// Event is emitted from the abuse engine to capture enforcement decisions and
// admin actions. It stays transport-agnostic so sinks can fan out.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	TokenID     string    `json:"token_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	PenaltyType string    `json:"penalty_type,omitempty"`
	Score       float64   `json:"score,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}

type AuditEvent string

const (
	EventScoreIncreased  AuditEvent = "abuse_score_increased"
	EventAbuseWarning    AuditEvent = "abuse_warning"
	EventPenaltyApplied  AuditEvent = "penalty_applied"
	EventPenaltyLifted   AuditEvent = "penalty_lifted"
	EventPenaltySwept    AuditEvent = "penalty_swept"
	EventSettingsUpdated AuditEvent = "security_settings_updated"
	EventRequestBlocked  AuditEvent = "request_blocked"
)

// Sink persists or forwards audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is the interface services depend on. Satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
