package audit

import (
	"context"
	"fmt"
	"log/slog"

	request "warden/pkg/platform/middleware/request"
)

// Logger provides structured audit logging with optional event emission.
// Services use it so every enforcement decision lands in the log stream with
// log_type=audit and, when configured, on the audit sink.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
}

// NewLogger creates an audit logger. Both arguments are optional.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	return &Logger{
		textLogger: textLogger,
		emitter:    emitter,
	}
}

// Log logs an audit event and emits it. Recognised attribute keys
// (token_id, user_id, actor, reason, penalty_type, score) populate the Event.
//
//	auditLog.Log(ctx, audit.EventPenaltyApplied, "token_id", "42", "penalty_type", "temp_ban")
func (l *Logger) Log(ctx context.Context, event AuditEvent, attributes ...any) {
	if l == nil {
		return
	}
	requestID := request.GetRequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}

	if l.textLogger != nil {
		args := append(attributes, "event", string(event), "log_type", "audit")
		l.textLogger.InfoContext(ctx, string(event), args...)
	}

	if l.emitter == nil {
		return
	}
	e := Event{
		Action:      string(event),
		TokenID:     extractString(attributes, "token_id"),
		UserID:      extractString(attributes, "user_id"),
		Actor:       extractString(attributes, "actor"),
		Reason:      extractString(attributes, "reason"),
		PenaltyType: extractString(attributes, "penalty_type"),
		Score:       extractFloat(attributes, "score"),
		RequestID:   requestID,
	}
	if err := l.emitter.Emit(ctx, e); err != nil && l.textLogger != nil {
		l.textLogger.WarnContext(ctx, "failed to emit audit event",
			"error", err,
			"event", string(event),
		)
	}
}

func extractString(attributes []any, key string) string {
	for i := 0; i+1 < len(attributes); i += 2 {
		if k, ok := attributes[i].(string); ok && k == key {
			switch v := attributes[i+1].(type) {
			case string:
				return v
			case fmt.Stringer:
				return v.String()
			default:
				return fmt.Sprint(v)
			}
		}
	}
	return ""
}

func extractFloat(attributes []any, key string) float64 {
	for i := 0; i+1 < len(attributes); i += 2 {
		if k, ok := attributes[i].(string); ok && k == key {
			switch v := attributes[i+1].(type) {
			case float64:
				return v
			case int:
				return float64(v)
			}
		}
	}
	return 0
}
