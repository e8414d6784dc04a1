package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pulse/internal/broadcast"
	"pulse/internal/engine"
	"pulse/internal/logger"
	"pulse/internal/market"
	"pulse/internal/profile"
	"pulse/internal/scheduler"
	"pulse/internal/signal"
	"pulse/internal/store"
)

// Result classifies one generation attempt for a symbol.
type Result string

const (
	ResultGenerated Result = "generated"
	ResultHold      Result = "hold"
	ResultSkipped   Result = "skipped"
	ResultFailed    Result = "failed"
)

// Config drives the periodic generation loop.
type Config struct {
	Symbols      []string
	Interval     time.Duration
	CycleTimeout time.Duration
	Engine       engine.Config
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 30 * time.Second
	}
	return c
}

// Runner owns the fetch, analyze, persist, broadcast cycle. A tick that
// lands while a symbol is still mid-cycle is skipped, never queued, so a
// slow upstream cannot pile up work.
type Runner struct {
	cfg      Config
	fetcher  *market.Fetcher
	store    store.SignalStore
	hub      *broadcast.Hub
	profiles *profile.Registry

	mu    sync.Mutex
	busy  map[string]bool
	stats *Stats
	nowFn func() time.Time
}

func New(cfg Config, fetcher *market.Fetcher, st store.SignalStore, hub *broadcast.Hub, profiles *profile.Registry) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    st,
		hub:      hub,
		profiles: profiles,
		busy:     make(map[string]bool),
		stats:    NewStats(time.Now().UTC()),
		nowFn:    time.Now,
	}
}

// Stats exposes the cycle counters.
func (r *Runner) Stats() StatsSnapshot {
	return r.stats.Snapshot()
}

// Run blocks, generating signals for every configured symbol on each tick,
// until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	sched := scheduler.NewIntervalScheduler(ctx, r.cfg.Interval)
	sched.RunImmediately = true
	sched.Start(func() {
		for _, symbol := range r.cfg.Symbols {
			res, _, err := r.GenerateOnce(ctx, symbol)
			if err != nil {
				logger.Errorf("generation cycle %s: %v", symbol, err)
			} else if res == ResultSkipped {
				logger.Warnf("generation cycle %s skipped, previous run still active", symbol)
			}
		}
	})
	return ctx.Err()
}

// GenerateOnce runs a single cycle for symbol. Safe to call concurrently
// with the periodic loop; whoever holds the symbol wins and the other call
// reports ResultSkipped.
func (r *Runner) GenerateOnce(ctx context.Context, symbol string) (Result, *signal.Signal, error) {
	if !r.tryAcquire(symbol) {
		r.stats.record(ResultSkipped, r.nowFn().UTC(), 0, nil)
		return ResultSkipped, nil, nil
	}
	defer r.release(symbol)

	start := r.nowFn().UTC()
	cctx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeout)
	defer cancel()

	sig, err := r.cycle(cctx, symbol, start)
	took := r.nowFn().UTC().Sub(start)
	switch {
	case err != nil:
		r.stats.record(ResultFailed, start, took, err)
		return ResultFailed, nil, err
	case sig == nil:
		r.stats.record(ResultHold, start, took, nil)
		return ResultHold, nil, nil
	default:
		r.stats.record(ResultGenerated, start, took, nil)
		return ResultGenerated, sig, nil
	}
}

func (r *Runner) cycle(ctx context.Context, symbol string, now time.Time) (*signal.Signal, error) {
	set, err := r.fetcher.FetchMultiTimeframe(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}

	eng := engine.New(r.engineConfigFor(symbol))
	sig, err := eng.Analyze(set, now)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", symbol, err)
	}
	if sig == nil {
		return nil, nil
	}

	if err := r.store.Create(ctx, sig); err != nil {
		return nil, fmt.Errorf("persist signal %s: %w", sig.ID, err)
	}
	// Broadcast strictly after the row is durable; consumers that miss the
	// publish can always read the store.
	if r.hub != nil {
		r.hub.Publish(sig)
	}
	logger.Infof("signal generated id=%s symbol=%s action=%s confidence=%.1f strength=%s",
		sig.ID, sig.Symbol, sig.Action, sig.Confidence, sig.Strength)
	return sig, nil
}

func (r *Runner) engineConfigFor(symbol string) engine.Config {
	cfg := r.cfg.Engine
	if r.profiles == nil {
		return cfg
	}
	if p, ok := r.profiles.Snapshot().ProfileFor(symbol); ok {
		cfg = p.Apply(cfg)
	}
	return cfg
}

func (r *Runner) tryAcquire(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy[symbol] {
		return false
	}
	r.busy[symbol] = true
	return true
}

func (r *Runner) release(symbol string) {
	r.mu.Lock()
	delete(r.busy, symbol)
	r.mu.Unlock()
}
