package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"

	"pulse/internal/market"
	"pulse/internal/pkg/circuit"
	"pulse/internal/scheduler"
)

const maxHistoryLimit = 1500

// Source implements market.Source on top of the go-binance futures REST API.
// A circuit breaker sits in front of the REST calls so a broken upstream
// fails fast instead of burning the whole cycle timeout on every timeframe.
type Source struct {
	cfg     Config
	client  *futures.Client
	breaker *circuit.Breaker
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{
		cfg:     final,
		client:  client,
		breaker: circuit.NewBreaker("binance-rest", final.BreakerThreshold, final.BreakerCooldown),
	}, nil
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	// Binance wants symbols without separators (ETHUSDT, not ETH/USDT).
	cleanSymbol := strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))

	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	// Request one extra candle so the set still holds `limit` closed ones
	// after the in-progress tail is dropped.
	if !s.breaker.Allow() {
		return nil, fmt.Errorf("%w: binance rest circuit open", market.ErrDataUnavailable)
	}
	svc := s.client.NewKlinesService().Symbol(cleanSymbol).Interval(interval).Limit(limit + 1)
	kls, err := svc.Do(ctx)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, err
	}
	s.breaker.RecordSuccess()
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedKline(out, dur)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Source) Close() error { return nil }

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
