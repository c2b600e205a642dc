package memory

import (
	"context"
	"sync"

	"warden/pkg/platform/audit"
)

// InMemoryStore keeps audit events in process. Used when no Kafka brokers are
// configured and in tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListByToken returns events recorded for tokenID in insertion order.
func (s *InMemoryStore) ListByToken(_ context.Context, tokenID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.TokenID == tokenID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAll returns a copy of every stored event.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}
