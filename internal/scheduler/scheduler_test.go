package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/market"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"1m", time.Minute, true},
		{"30s", 30 * time.Second, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"", 0, false},
		{"7q", 0, false},
		{"m", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.raw)
		}
	}
}

func klinesEndingAt(openTimes ...int64) []market.Candle {
	out := make([]market.Candle, len(openTimes))
	for i, ot := range openTimes {
		out[i] = market.Candle{OpenTime: ot}
	}
	return out
}

func TestDropUnclosedKlineAt(t *testing.T) {
	interval := time.Minute
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	klines := klinesEndingAt(
		base.Add(-3*time.Minute).UnixMilli(),
		base.Add(-2*time.Minute).UnixMilli(),
		base.Add(-time.Minute).UnixMilli(),
	)

	t.Run("in-progress tail dropped", func(t *testing.T) {
		// The last candle closes at base; just before close+grace it is
		// still suspect.
		got := dropUnclosedKlineAt(klines, interval, base.Add(5*time.Second), DefaultKlineGrace)
		assert.Len(t, got, 2)
	})

	t.Run("closed tail kept past grace", func(t *testing.T) {
		got := dropUnclosedKlineAt(klines, interval, base.Add(11*time.Second), DefaultKlineGrace)
		assert.Len(t, got, 3)
	})

	t.Run("empty and zero interval untouched", func(t *testing.T) {
		assert.Empty(t, dropUnclosedKlineAt(nil, interval, base, DefaultKlineGrace))
		assert.Len(t, dropUnclosedKlineAt(klines, 0, base, DefaultKlineGrace), 3)
	})
}

func TestIntervalSchedulerRunsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewIntervalScheduler(ctx, 10*time.Millisecond)
	s.RunImmediately = true

	var ticks atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(func() { ticks.Add(1) })
		close(done)
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
