package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/pkg/platform/audit"
)

type recordingProducer struct {
	msgs []*Message
	err  error
}

func (r *recordingProducer) Produce(_ context.Context, msg *Message) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestAuditSinkAppend(t *testing.T) {
	rp := &recordingProducer{}
	sink := NewAuditSink(rp, "warden.audit")

	err := sink.Append(context.Background(), audit.Event{
		ID:          "evt-1",
		Action:      string(audit.EventPenaltyApplied),
		TokenID:     "42",
		PenaltyType: "temp_ban",
		RequestID:   "req-9",
	})
	require.NoError(t, err)
	require.Len(t, rp.msgs, 1)

	msg := rp.msgs[0]
	assert.Equal(t, "warden.audit", msg.Topic)
	assert.Equal(t, []byte("42"), msg.Key)
	assert.Equal(t, "penalty_applied", msg.Headers["event_type"])
	assert.Equal(t, "req-9", msg.Headers["request_id"])

	var decoded audit.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "temp_ban", decoded.PenaltyType)
}

func TestAuditSinkPropagatesProducerError(t *testing.T) {
	rp := &recordingProducer{err: errors.New("broker down")}
	sink := NewAuditSink(rp, "t")

	err := sink.Append(context.Background(), audit.Event{Action: "x"})
	assert.ErrorContains(t, err, "broker down")
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestAcksFor(t *testing.T) {
	assert.Equal(t, acksFor("all"), acksFor(""))
	assert.NotEqual(t, acksFor("0"), acksFor("all"))
}
