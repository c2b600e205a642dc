// Package penalty persists penalty records. Stores are pure I/O; lifecycle
// rules live in the penalty engine.
package penalty

import (
	"errors"

	"warden/internal/abuse/models"
)

var (
	// ErrActiveExists is returned by Create when the token already has an
	// active penalty.
	ErrActiveExists = errors.New("active penalty already exists")
	// ErrNotFound is returned by Lift when no active penalty exists.
	ErrNotFound = errors.New("no active penalty")
)

func clone(p *models.Penalty) *models.Penalty {
	if p == nil {
		return nil
	}
	cp := *p
	if p.EndTime != nil {
		t := *p.EndTime
		cp.EndTime = &t
	}
	if p.LiftedAt != nil {
		t := *p.LiftedAt
		cp.LiftedAt = &t
	}
	return &cp
}

func page(items []*models.Penalty, offset, limit int) []*models.Penalty {
	if offset >= len(items) {
		return []*models.Penalty{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*models.Penalty, 0, end-offset)
	for _, p := range items[offset:end] {
		out = append(out, clone(p))
	}
	return out
}
