package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"warden/pkg/platform/audit"
)

// MessageProducer is the subset of Producer the audit sink needs.
type MessageProducer interface {
	Produce(ctx context.Context, msg *Message) error
}

// AuditSink publishes audit events to a Kafka topic, keyed by token id so
// one token's events stay ordered within a partition.
type AuditSink struct {
	producer MessageProducer
	topic    string
}

// NewAuditSink returns an audit.Sink writing to topic.
func NewAuditSink(p MessageProducer, topic string) *AuditSink {
	return &AuditSink{producer: p, topic: topic}
}

// Append implements audit.Sink.
func (s *AuditSink) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	msg := &Message{
		Topic: s.topic,
		Key:   []byte(event.TokenID),
		Value: payload,
		Headers: map[string]string{
			"event_type": event.Action,
		},
	}
	if event.RequestID != "" {
		msg.Headers["request_id"] = event.RequestID
	}
	return s.producer.Produce(ctx, msg)
}
