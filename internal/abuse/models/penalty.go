package models

import (
	"time"
)

// PenaltyType is the enforcement action recorded for a principal.
type PenaltyType string

const (
	PenaltyWarning   PenaltyType = "warning"
	PenaltyRateLimit PenaltyType = "rate_limit"
	PenaltyTempBan   PenaltyType = "temp_ban"
	PenaltyPermBan   PenaltyType = "perm_ban"
)

// Enforceable reports whether t may be configured as the action penalty.
func (t PenaltyType) Enforceable() bool {
	switch t {
	case PenaltyRateLimit, PenaltyTempBan, PenaltyPermBan:
		return true
	}
	return false
}

// Blocks reports whether t rejects every request outright.
func (t PenaltyType) Blocks() bool {
	return t == PenaltyTempBan || t == PenaltyPermBan
}

// Penalty is a persisted enforcement record. At most one is active per token.
type Penalty struct {
	ID           string      `json:"id"`
	TokenID      string      `json:"token_id"`
	TokenName    string      `json:"token_name"`
	UserID       string      `json:"user_id,omitempty"`
	PenaltyType  PenaltyType `json:"penalty_type"`
	Reason       string      `json:"reason"`
	AbuseScore   float64     `json:"abuse_score"`
	RateLimitRPM int         `json:"rate_limit_rpm,omitempty"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      *time.Time  `json:"end_time"`
	LiftedAt     *time.Time  `json:"lifted_at,omitempty"`
	LiftedBy     string      `json:"lifted_by,omitempty"`
}

// IsActive reports whether the penalty is in force at now.
func (p *Penalty) IsActive(now time.Time) bool {
	if p == nil || p.LiftedAt != nil {
		return false
	}
	return p.EndTime == nil || p.EndTime.After(now)
}

// State maps the record to its lifecycle state at now.
func (p *Penalty) State(now time.Time) State {
	switch {
	case p == nil:
		return StateClear
	case p.LiftedAt != nil:
		return StateLifted
	case p.IsActive(now):
		return StatePenalized
	default:
		return StateExpired
	}
}

// RetryAfter is the time until a timed penalty ends; zero when it has no end.
func (p *Penalty) RetryAfter(now time.Time) time.Duration {
	if p == nil || p.EndTime == nil || !p.EndTime.After(now) {
		return 0
	}
	return p.EndTime.Sub(now)
}

// PenaltyStatus is the consult result for a token.
type PenaltyStatus struct {
	Active            bool     `json:"active"`
	Penalty           *Penalty `json:"penalty,omitempty"`
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
}

// PenaltyPage is one page of penalties plus the unpaged total.
type PenaltyPage struct {
	Penalties []*Penalty `json:"penalties"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}
