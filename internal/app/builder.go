package app

import (
	"context"
	"fmt"

	"pulse/internal/broadcast"
	"pulse/internal/config"
	"pulse/internal/gateway/binance"
	"pulse/internal/logger"
	"pulse/internal/market"
	"pulse/internal/profile"
	"pulse/internal/runner"
	"pulse/internal/store/decisionlog"
	"pulse/internal/store/sqlite"
	httpapi "pulse/internal/transport/http"
)

// AppBuilder assembles the App. Construction functions are fields so tests
// can substitute fakes for the exchange client or the stores.
type AppBuilder struct {
	cfg *config.Config

	sourceFn      func(binance.Config) (market.Source, error)
	signalStoreFn func(string) (*sqlite.Store, error)
	decisionLogFn func(string) (*decisionlog.Store, error)
	profilesFn    func(string) (*profile.Registry, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg: cfg,
		sourceFn: func(gc binance.Config) (market.Source, error) {
			return binance.New(gc)
		},
		signalStoreFn: sqlite.New,
		decisionLogFn: decisionlog.New,
		profilesFn:    profile.NewRegistry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithSource overrides the candle source, for tests.
func WithSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(binance.Config) (market.Source, error) { return src, nil }
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg

	signals, err := b.signalStoreFn(cfg.Store.SignalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open signal store: %w", err)
	}

	decisions, err := b.decisionLogFn(cfg.Bot.DecisionLogPath)
	if err != nil {
		_ = signals.Close()
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	var profiles *profile.Registry
	if cfg.Profiles.Enabled {
		profiles, err = b.profilesFn(cfg.Profiles.Path)
		if err != nil {
			_ = signals.Close()
			_ = decisions.Close()
			return nil, fmt.Errorf("load profiles: %w", err)
		}
	}

	source, err := b.sourceFn(cfg.Market.GatewayConfig())
	if err != nil {
		_ = signals.Close()
		_ = decisions.Close()
		return nil, fmt.Errorf("build candle source: %w", err)
	}
	fetcher := market.NewFetcher(source, cfg.Market.FetchConfig())
	hub := broadcast.NewHub(cfg.HTTP.SubscriberBuffer)
	run := runner.New(cfg.RunnerConfig(), fetcher, signals, hub, profiles)

	engineCfg := cfg.Engine.EngineConfig()
	httpSrv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:                 cfg.HTTP.Listen,
		Signals:              signals,
		Executions:           signals,
		Runner:               run,
		Hub:                  hub,
		Decisions:            decisions,
		Source:               source,
		DefaultSymbols:       cfg.Market.Symbols,
		ChartInterval:        cfg.Market.MediumInterval,
		FastPeriod:           engineCfg.Indicator.FastPeriod,
		SlowPeriod:           engineCfg.Indicator.SlowPeriod,
		DefaultMinConfidence: cfg.Bot.DefaultMinConfidence,
		Heartbeat:            cfg.HTTP.HeartbeatDuration(),
	})
	if err != nil {
		_ = signals.Close()
		_ = decisions.Close()
		return nil, fmt.Errorf("build http server: %w", err)
	}

	logger.Infof("pulse assembled: symbols=%v interval=%ds listen=%s profiles=%v",
		cfg.Market.Symbols, cfg.Market.IntervalSec, cfg.HTTP.Listen, cfg.Profiles.Enabled)

	return &App{
		cfg:       cfg,
		signals:   signals,
		decisions: decisions,
		hub:       hub,
		runner:    run,
		http:      httpSrv,
		closeFns:  []func() error{source.Close, decisions.Close, signals.Close},
	}, nil
}
