package bot

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionExecuted  ExecutionStatus = "EXECUTED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionSkipped   ExecutionStatus = "SKIPPED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// Execution joins one signal to one account's attempt to act on it. Created
// right after the decision engine returns a verdict, updated once the
// downstream order attempt resolves. Many executions may reference one
// signal; only the first successful one advances the signal itself.
type Execution struct {
	ID               int64           `json:"id"`
	SignalID         string          `json:"signal_id"`
	UserID           string          `json:"user_id"`
	Status           ExecutionStatus `json:"status"`
	ValidationPassed bool            `json:"validation_passed"`
	ValidationErrors []string        `json:"validation_errors,omitempty"`
	SignalPrice      float64         `json:"signal_price"`
	ActualEntryPrice float64         `json:"actual_entry_price"`
	Slippage         float64         `json:"slippage"`
	LatencyMs        int64           `json:"latency_ms"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Blocking reports whether this prior execution should stop the same account
// from executing the same signal again. A failed attempt may be retried;
// anything else counts as a duplicate.
func (e *Execution) Blocking() bool {
	return e != nil && e.Status != ExecutionFailed
}

// SlippagePct computes entry slippage as a percentage of the signal price,
// positive when the fill was worse than the signal reference.
func SlippagePct(signalPrice, entryPrice float64) float64 {
	if signalPrice == 0 {
		return 0
	}
	ref := decimal.NewFromFloat(signalPrice)
	fill := decimal.NewFromFloat(entryPrice)
	pct, _ := fill.Sub(ref).Div(ref).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
