package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	request "warden/pkg/platform/middleware/request"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	events []Event
	err    error
}

func (r *recordingEmitter) Emit(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestLogger_Log(t *testing.T) {
	t.Run("populates event from attributes", func(t *testing.T) {
		emitter := &recordingEmitter{}
		l := NewLogger(nil, emitter)
		ctx := request.WithRequestID(context.Background(), "req-1")

		l.Log(ctx, EventPenaltyApplied,
			"token_id", "42",
			"penalty_type", "temp_ban",
			"reason", "test_content_abuse",
			"score", 100.0,
		)

		require.Len(t, emitter.events, 1)
		e := emitter.events[0]
		assert.Equal(t, "penalty_applied", e.Action)
		assert.Equal(t, "42", e.TokenID)
		assert.Equal(t, "temp_ban", e.PenaltyType)
		assert.Equal(t, "test_content_abuse", e.Reason)
		assert.Equal(t, 100.0, e.Score)
		assert.Equal(t, "req-1", e.RequestID)
	})

	t.Run("writes audit log line", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)), nil)

		l.Log(context.Background(), EventPenaltyLifted, "token_id", "7", "actor", "ops")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "audit", line["log_type"])
		assert.Equal(t, "penalty_lifted", line["event"])
		assert.Equal(t, "7", line["token_id"])
	})

	t.Run("emit failure is logged not returned", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)), &recordingEmitter{err: errors.New("sink down")})

		l.Log(context.Background(), EventAbuseWarning, "token_id", "9")
		assert.Contains(t, buf.String(), "failed to emit audit event")
	})

	t.Run("nil logger is a no-op", func(t *testing.T) {
		var l *Logger
		assert.NotPanics(t, func() { l.Log(context.Background(), EventAbuseWarning) })
	})
}
