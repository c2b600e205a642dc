package models

import (
	"time"
)

// Principal is the API credential being monitored. It is created lazily on
// the first observed request.
type Principal struct {
	TokenID   string   `json:"token_id"`
	TokenName string   `json:"token_name,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	GroupIDs  []string `json:"group_ids,omitempty"`
}

// Reason tags a score increase.
type Reason string

const (
	ReasonModelSwitch Reason = "frequent_model_switch"
	ReasonTestContent Reason = "test_content_abuse"
)

// EventKind names the counter an event is recorded into.
type EventKind string

const (
	EventModelSwitch EventKind = "model_switch"
	EventTestContent EventKind = "test_content"
)

// ModelSwitch is a change of requested model between consecutive requests.
type ModelSwitch struct {
	FromModel string
	ToModel   string
	At        time.Time
}

// TestContent is a request classified as test or low-effort content.
type TestContent struct {
	ContentLength  int
	MatchedPattern string
	At             time.Time
}

// ScoreIncrease is one audited change to a principal's abuse score.
type ScoreIncrease struct {
	Reason Reason    `json:"reason"`
	Delta  float64   `json:"delta"`
	Score  float64   `json:"score"`
	At     time.Time `json:"at"`
}

// State is the principal's position in the enforcement lifecycle.
type State string

const (
	StateClear     State = "clear"
	StateWarned    State = "warned"
	StatePenalized State = "penalized"
	StateLifted    State = "lifted"
	StateExpired   State = "expired"
)

// ClassifyResult is the content classifier's verdict.
type ClassifyResult struct {
	IsTest         bool   `json:"is_test"`
	Reason         string `json:"reason,omitempty"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
	Length         int    `json:"length"`
}

// Classifier verdict reasons.
const (
	ClassifyTooShort = "too_short"
	ClassifyPattern  = "pattern_match"
)

// ScoreResult reports what a scoring call did.
type ScoreResult struct {
	Score     float64 `json:"score"`
	Increased bool    `json:"increased"`
	Reason    Reason  `json:"reason,omitempty"`
	Warned    bool    `json:"warned"`
	Penalized bool    `json:"penalized"`
}

// Decision is the allow/deny outcome handed back to the request pipeline.
type Decision struct {
	Allowed      bool          `json:"allowed"`
	Whitelisted  bool          `json:"whitelisted"`
	Score        float64       `json:"score"`
	Penalty      *Penalty      `json:"penalty,omitempty"`
	RetryAfter   time.Duration `json:"-"`
	RateLimitRPM int           `json:"rate_limit_rpm,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// AbuseInfo is the admin view of a single token.
type AbuseInfo struct {
	TokenID   string          `json:"token_id"`
	Score     float64         `json:"abuse_score"`
	State     State           `json:"state"`
	LastModel string          `json:"last_model,omitempty"`
	History   []ScoreIncrease `json:"score_history"`
	Status    PenaltyStatus   `json:"penalty_status"`
}
