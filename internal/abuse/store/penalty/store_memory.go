package penalty

import (
	"context"
	"slices"
	"sync"
	"time"

	"warden/internal/abuse/models"
)

// InMemoryPenaltyStore keeps penalties in process. The active index holds at
// most one record per token; history keeps every record ever created.
type InMemoryPenaltyStore struct {
	mu      sync.RWMutex
	active  map[string]*models.Penalty
	history map[string][]*models.Penalty
}

// New constructs an in-memory penalty store.
func New() *InMemoryPenaltyStore {
	return &InMemoryPenaltyStore{
		active:  make(map[string]*models.Penalty),
		history: make(map[string][]*models.Penalty),
	}
}

func (s *InMemoryPenaltyStore) GetActive(_ context.Context, tokenID string, now time.Time) (*models.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.active[tokenID]
	if !p.IsActive(now) {
		return nil, nil
	}
	return clone(p), nil
}

func (s *InMemoryPenaltyStore) Create(_ context.Context, p *models.Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.active[p.TokenID]; existing.IsActive(p.StartTime) {
		return ErrActiveExists
	}
	stored := clone(p)
	s.active[p.TokenID] = stored
	s.history[p.TokenID] = append(s.history[p.TokenID], stored)
	return nil
}

func (s *InMemoryPenaltyStore) Lift(_ context.Context, tokenID string, at time.Time, liftedBy string) (*models.Penalty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.active[tokenID]
	if !p.IsActive(at) {
		return nil, ErrNotFound
	}
	end := at
	lifted := at
	p.EndTime = &end
	p.LiftedAt = &lifted
	p.LiftedBy = liftedBy
	delete(s.active, tokenID)
	return clone(p), nil
}

func (s *InMemoryPenaltyStore) ListActive(_ context.Context, now time.Time, offset, limit int) ([]*models.Penalty, int, error) {
	s.mu.RLock()
	var items []*models.Penalty
	for _, p := range s.active {
		if p.IsActive(now) {
			items = append(items, p)
		}
	}
	sortNewestFirst(items)
	out := page(items, offset, limit)
	s.mu.RUnlock()
	return out, len(items), nil
}

func (s *InMemoryPenaltyStore) History(_ context.Context, tokenID string, offset, limit int) ([]*models.Penalty, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := slices.Clone(s.history[tokenID])
	sortNewestFirst(items)
	return page(items, offset, limit), len(items), nil
}

// SweepActive drops lifted or expired records from the active index.
func (s *InMemoryPenaltyStore) SweepActive(_ context.Context, now time.Time) (removed, remaining int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, p := range s.active {
		if !p.IsActive(now) {
			delete(s.active, token)
			removed++
		}
	}
	return removed, len(s.active), nil
}

func sortNewestFirst(items []*models.Penalty) {
	slices.SortFunc(items, func(a, b *models.Penalty) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
