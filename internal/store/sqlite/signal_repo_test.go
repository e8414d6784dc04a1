package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/analysis/indicator"
	"pulse/internal/bot"
	"pulse/internal/signal"
	"pulse/internal/store"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "pulse_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSignal(now time.Time, ttl time.Duration) *signal.Signal {
	return &signal.Signal{
		ID:             uuid.NewString(),
		Symbol:         "BTCUSDT",
		Action:         signal.ActionBuy,
		Confidence:     72.5,
		Strength:       signal.StrengthStrong,
		ReferencePrice: 65000,
		Status:         signal.StatusActive,
		IsPublic:       true,
		Rationale:      "BUY: 1m/3m aligned",
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		Snapshots: map[string]indicator.Snapshot{
			"3m": {Timeframe: "3m", FastAvg: 102, SlowAvg: 100, Oscillator: 55, TrendStrength: 28, VolumeRatio: 1.1, Candles: 120},
		},
	}
}

func TestCreateAndGetRoundtrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sig := testSignal(now, 30*time.Minute)
	require.NoError(t, s.Create(ctx, sig))

	got, err := s.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, sig.Symbol, got.Symbol)
	assert.Equal(t, sig.Action, got.Action)
	assert.Equal(t, sig.Confidence, got.Confidence)
	assert.Equal(t, sig.ExpiresAt, got.ExpiresAt)
	require.Contains(t, got.Snapshots, "3m")
	assert.Equal(t, sig.Snapshots["3m"], got.Snapshots["3m"])

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindActiveExcludesExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	live := testSignal(now, 30*time.Minute)
	stale := testSignal(now.Add(-2*time.Hour), 30*time.Minute)
	require.NoError(t, s.Create(ctx, live))
	require.NoError(t, s.Create(ctx, stale))

	active, err := s.FindActive(ctx, store.ActiveFilter{}, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)

	// The opportunistic sweep inside FindActive has persisted the flip.
	got, err := s.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusExpired, got.Status)
}

func TestFindActiveSymbolFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	btc := testSignal(now, 30*time.Minute)
	eth := testSignal(now, 30*time.Minute)
	eth.Symbol = "ETHUSDT"
	require.NoError(t, s.Create(ctx, btc))
	require.NoError(t, s.Create(ctx, eth))

	active, err := s.FindActive(ctx, store.ActiveFilter{Symbol: "ETHUSDT"}, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ETHUSDT", active[0].Symbol)
}

func TestTransitionConditionalUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sig := testSignal(now, 30*time.Minute)
	require.NoError(t, s.Create(ctx, sig))

	require.NoError(t, s.Transition(ctx, sig.ID, signal.StatusActive, signal.StatusExecuted, now))

	// Second attempt races against an already-resolved signal.
	err := s.Transition(ctx, sig.ID, signal.StatusActive, signal.StatusExpired, now)
	assert.ErrorIs(t, err, store.ErrAlreadyResolved)

	err = s.Transition(ctx, "missing", signal.StatusActive, signal.StatusExecuted, now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusExecuted, got.Status)
	require.NotNil(t, got.ExecutedAt)
}

func TestConcurrentTransitionsExactlyOneWinner(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sig := testSignal(now, 30*time.Minute)
	require.NoError(t, s.Create(ctx, sig))

	targets := []signal.Status{signal.StatusExecuted, signal.StatusExpired, signal.StatusCancelled}
	results := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to signal.Status) {
			defer wg.Done()
			results[i] = s.Transition(ctx, sig.ID, signal.StatusActive, to, now)
		}(i, to)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, store.ErrAlreadyResolved)
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, len(targets)-1, losses)
}

func TestFindHistoryClassifiesUnsweptRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	executed := testSignal(now.Add(-time.Hour), 30*time.Minute)
	executed.Status = signal.StatusExecuted
	stale := testSignal(now.Add(-2*time.Hour), 30*time.Minute) // still ACTIVE on disk
	live := testSignal(now, 30*time.Minute)
	require.NoError(t, s.Create(ctx, executed))
	require.NoError(t, s.Create(ctx, stale))
	require.NoError(t, s.Create(ctx, live))

	history, err := s.FindHistory(ctx, store.HistoryFilter{}, now)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, h := range history {
		assert.NotEqual(t, live.ID, h.ID)
		// Even before the sweep persists the flip, readers never see an
		// expired row as ACTIVE.
		assert.True(t, h.Status.Terminal(), "history status %s must be terminal", h.Status)
	}
}

func TestExpireOldSignalsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := testSignal(now.Add(-2*time.Hour), 30*time.Minute)
	require.NoError(t, s.Create(ctx, stale))

	n, err := s.ExpireOldSignals(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.ExpireOldSignals(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurgeOlderThanKeepsActive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := testSignal(now.Add(-48*time.Hour), 30*time.Minute)
	old.Status = signal.StatusExpired
	live := testSignal(now, 30*time.Minute)
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Create(ctx, live))

	n, err := s.PurgeOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, live.ID)
	assert.NoError(t, err)
}

func TestExecutionRoundtripAndDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sig := testSignal(now, 30*time.Minute)
	require.NoError(t, s.Create(ctx, sig))

	exec := &bot.Execution{
		SignalID:         sig.ID,
		UserID:           "user-1",
		Status:           bot.ExecutionPending,
		ValidationPassed: true,
		SignalPrice:      65000,
		CreatedAt:        now,
	}
	require.NoError(t, s.CreateExecution(ctx, exec))
	assert.NotZero(t, exec.ID)

	dup := &bot.Execution{SignalID: sig.ID, UserID: "user-1", Status: bot.ExecutionPending}
	assert.ErrorIs(t, s.CreateExecution(ctx, dup), store.ErrDuplicateExecution)

	exec.Status = bot.ExecutionExecuted
	exec.ActualEntryPrice = 65100
	exec.Slippage = bot.SlippagePct(exec.SignalPrice, exec.ActualEntryPrice)
	require.NoError(t, s.UpdateExecution(ctx, exec))

	got, err := s.FindExecution(ctx, sig.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, bot.ExecutionExecuted, got.Status)
	assert.InDelta(t, 0.1538, got.Slippage, 0.001)

	byID, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, got, byID)

	_, err = s.GetExecution(ctx, exec.ID+100)
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListExecutions(ctx, sig.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
