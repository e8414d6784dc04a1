package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"pulse/internal/broadcast"
	"pulse/internal/config"
	"pulse/internal/logger"
	"pulse/internal/runner"
	"pulse/internal/scheduler"
	"pulse/internal/store"
	"pulse/internal/store/decisionlog"
	httpapi "pulse/internal/transport/http"
)

// App owns application-level orchestration: config, dependency construction,
// and the lifetime of the generation loop, the HTTP surface, and the store
// maintenance sweep.
type App struct {
	cfg       *config.Config
	signals   store.SignalStore
	decisions *decisionlog.Store
	hub       *broadcast.Hub
	runner    *runner.Runner
	http      *httpapi.Server

	closeFns []func() error
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return a.runner.Run(ctx)
	})

	group.Go(func() error {
		a.maintenanceLoop(ctx)
		return nil
	})

	err := group.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// maintenanceLoop runs the scheduled expiry sweep and retention purge. Reads
// already sweep opportunistically; this keeps the table tidy when traffic is
// idle.
func (a *App) maintenanceLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Store.PurgeIntervalMin) * time.Minute
	retention := time.Duration(a.cfg.Store.RetentionHours) * time.Hour
	sched := scheduler.NewIntervalScheduler(ctx, interval)
	sched.Start(func() {
		now := time.Now().UTC()
		if n, err := a.signals.ExpireOldSignals(ctx, now); err != nil {
			logger.Errorf("expiry sweep failed: %v", err)
		} else if n > 0 {
			logger.Infof("expiry sweep flipped %d signals", n)
		}
		if n, err := a.signals.PurgeOlderThan(ctx, now.Add(-retention)); err != nil {
			logger.Errorf("retention purge failed: %v", err)
		} else if n > 0 {
			logger.Infof("retention purge removed %d signals", n)
		}
	})
}

func (a *App) close() {
	if a.hub != nil {
		a.hub.Close()
	}
	for _, fn := range a.closeFns {
		if err := fn(); err != nil {
			logger.Warnf("close: %v", err)
		}
	}
}
