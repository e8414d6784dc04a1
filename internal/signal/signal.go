package signal

import (
	"time"

	"pulse/internal/analysis/indicator"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

type Strength string

const (
	StrengthWeak       Strength = "WEAK"
	StrengthModerate   Strength = "MODERATE"
	StrengthStrong     Strength = "STRONG"
	StrengthVeryStrong Strength = "VERY_STRONG"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExecuted  Status = "EXECUTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether a status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusExpired || s == StatusCancelled
}

// Signal is the durable record of one non-HOLD analysis result.
type Signal struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Action         Action    `json:"action"`
	Confidence     float64   `json:"confidence"`
	Strength       Strength  `json:"strength"`
	ReferencePrice float64   `json:"reference_price"`
	Status         Status    `json:"status"`
	IsPublic       bool      `json:"is_public"`
	Rationale      string    `json:"rationale"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	// Snapshots keeps the per-timeframe indicator inputs for audit.
	Snapshots map[string]indicator.Snapshot `json:"snapshots,omitempty"`
}

// IsExpired is the lazy-expiry predicate: an ACTIVE signal whose deadline has
// passed is treated as expired by every reader, even before the sweep
// persists that fact.
func (s *Signal) IsExpired(now time.Time) bool {
	if s == nil {
		return true
	}
	return s.Status == StatusActive && !now.Before(s.ExpiresAt)
}

// EffectiveStatus resolves the logically-current status at `now`.
func (s *Signal) EffectiveStatus(now time.Time) Status {
	if s.IsExpired(now) {
		return StatusExpired
	}
	return s.Status
}

// Actionable reports whether a consumer may still act on the signal.
func (s *Signal) Actionable(now time.Time) bool {
	return s != nil && s.Status == StatusActive && now.Before(s.ExpiresAt)
}
