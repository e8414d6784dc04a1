package market

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"pulse/internal/logger"
)

// TimeframeSet bundles the three candle series one analysis pass consumes.
type TimeframeSet struct {
	Symbol string
	Short  []Candle
	Medium []Candle
	Long   []Candle
}

// FetchConfig controls the multi-timeframe fetch.
type FetchConfig struct {
	ShortInterval  string
	MediumInterval string
	LongInterval   string
	// CandleCount is how many closed candles to request per timeframe.
	CandleCount int
	// MinCandles is the shortest series the longest indicator window accepts.
	MinCandles int
	// MaxAttempts bounds retries per timeframe; RetryBackoff grows linearly
	// with the attempt number.
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.CandleCount <= 0 {
		c.CandleCount = 100
	}
	if c.MinCandles <= 0 {
		c.MinCandles = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	return c
}

// Fetcher pulls one symbol across three timeframes. A validation failure on
// any timeframe aborts the whole set; partial multi-timeframe data never
// reaches the engine.
type Fetcher struct {
	src Source
	cfg FetchConfig
}

func NewFetcher(src Source, cfg FetchConfig) *Fetcher {
	return &Fetcher{src: src, cfg: cfg.withDefaults()}
}

func (f *Fetcher) FetchMultiTimeframe(ctx context.Context, symbol string) (TimeframeSet, error) {
	set := TimeframeSet{Symbol: symbol}
	g, gctx := errgroup.WithContext(ctx)

	fetch := func(interval string, dst *[]Candle) func() error {
		return func() error {
			candles, err := f.fetchWithRetry(gctx, symbol, interval)
			if err != nil {
				return err
			}
			if err := ValidateSeries(candles, f.cfg.MinCandles); err != nil {
				return fmt.Errorf("%s %s: %w", symbol, interval, err)
			}
			for i := range candles {
				candles[i].Timeframe = interval
			}
			*dst = candles
			return nil
		}
	}

	g.Go(fetch(f.cfg.ShortInterval, &set.Short))
	g.Go(fetch(f.cfg.MediumInterval, &set.Medium))
	g.Go(fetch(f.cfg.LongInterval, &set.Long))

	if err := g.Wait(); err != nil {
		return TimeframeSet{}, err
	}
	return set, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, symbol, interval string) ([]Candle, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		candles, err := f.src.FetchHistory(ctx, symbol, interval, f.cfg.CandleCount)
		if err == nil {
			return candles, nil
		}
		lastErr = err
		logger.Warnf("fetch %s %s attempt %d/%d failed: %v", symbol, interval, attempt, f.cfg.MaxAttempts, err)
		if attempt == f.cfg.MaxAttempts {
			break
		}
		backoff := time.Duration(attempt) * f.cfg.RetryBackoff
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("%w: %s %s after %d attempts: %v", ErrDataUnavailable, symbol, interval, f.cfg.MaxAttempts, lastErr)
}
