package store

import (
	"context"
	"errors"
	"time"

	"pulse/internal/bot"
	"pulse/internal/signal"
)

var (
	// ErrNotFound means the record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyResolved marks a conditional transition whose precondition
	// no longer holds: someone else won the race. Callers treat it as a
	// benign outcome, not a failure.
	ErrAlreadyResolved = errors.New("signal already resolved")

	// ErrDuplicateExecution marks a second execution record for the same
	// (signal, account) pair.
	ErrDuplicateExecution = errors.New("execution already recorded")
)

// ActiveFilter narrows FindActive.
type ActiveFilter struct {
	Symbol     string
	PublicOnly bool
	Limit      int
}

// HistoryFilter narrows FindHistory (non-active signals, newest first).
type HistoryFilter struct {
	Symbol string
	Limit  int
	Offset int
}

// SignalStore is the single source of truth for signal lifecycle state.
// Transition must be a conditional update (commit only if the persisted
// status still equals `from`) so that concurrent executions and the expiry
// sweep cannot double-apply.
type SignalStore interface {
	Create(ctx context.Context, sig *signal.Signal) error
	Get(ctx context.Context, id string) (*signal.Signal, error)

	// FindActive returns only signals with status=ACTIVE and expiry in the
	// future at `now`; rows the sweep has not flipped yet are still excluded.
	FindActive(ctx context.Context, f ActiveFilter, now time.Time) ([]signal.Signal, error)
	FindHistory(ctx context.Context, f HistoryFilter, now time.Time) ([]signal.Signal, error)

	// Transition flips id from `from` to `to`, returning ErrAlreadyResolved
	// when the persisted status no longer matches.
	Transition(ctx context.Context, id string, from, to signal.Status, at time.Time) error

	// ExpireOldSignals flips every {ACTIVE, expired} row to EXPIRED.
	// Idempotent; safe to run opportunistically on read paths.
	ExpireOldSignals(ctx context.Context, now time.Time) (int64, error)

	// PurgeOlderThan bulk-deletes terminal signals past the retention window.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// ExecutionStore persists per-account execution attempts against signals.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *bot.Execution) error
	GetExecution(ctx context.Context, id int64) (*bot.Execution, error)
	FindExecution(ctx context.Context, signalID, userID string) (*bot.Execution, error)
	UpdateExecution(ctx context.Context, exec *bot.Execution) error
	ListExecutions(ctx context.Context, signalID string) ([]bot.Execution, error)
}
