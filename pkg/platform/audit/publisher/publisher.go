package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
)

// Publisher fans audit events into a Sink. In async mode events are queued and
// delivered by a background goroutine so the scoring hot path never waits on
// the sink.
type Publisher struct {
	sink   audit.Sink
	events chan audit.Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan audit.Event, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(sink audit.Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{sink: sink}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.sink.Append(ctx, event); err != nil && p.logger != nil {
			p.logger.Error("failed to deliver audit event",
				"error", err,
				"action", event.Action,
				"token_id", event.TokenID,
			)
		}
		cancel()
	}
}

// Close shuts down the async publisher and waits for pending events to drain.
func (p *Publisher) Close() {
	if p.async && p.events != nil {
		close(p.events)
		p.wg.Wait()
	}
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if !p.async {
		return p.sink.Append(ctx, event)
	}
	select {
	case p.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if p.logger != nil {
			p.logger.Warn("audit buffer full, event dropped",
				"action", event.Action,
				"token_id", event.TokenID,
			)
		}
		return dErrors.New(dErrors.CodeUnavailable, "audit buffer full")
	}
}
