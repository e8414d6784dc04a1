package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"pulse/internal/analysis/indicator"
	"pulse/internal/market"
	"pulse/internal/signal"
)

// Engine turns a three-timeframe candle set into at most one signal.
// Analyze is pure apart from the identity and timestamp fields: identical
// candles and configuration always yield the same decision.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.WithDefaults()}
}

// Analyze returns nil when the composite decision is HOLD; nothing is
// persisted or broadcast for a HOLD.
func (e *Engine) Analyze(set market.TimeframeSet, now time.Time) (*signal.Signal, error) {
	short, err := indicator.Compute(set.Short, e.cfg.Indicator)
	if err != nil {
		return nil, fmt.Errorf("short timeframe: %w", err)
	}
	medium, err := indicator.Compute(set.Medium, e.cfg.Indicator)
	if err != nil {
		return nil, fmt.Errorf("medium timeframe: %w", err)
	}
	long, err := indicator.Compute(set.Long, e.cfg.Indicator)
	if err != nil {
		return nil, fmt.Errorf("long timeframe: %w", err)
	}

	action := e.confirmedAction(short, medium, long)
	if action == signal.ActionHold {
		return nil, nil
	}

	// Ordered filters; the first hit downgrades to HOLD.
	if medium.TrendStrength < e.cfg.MinTrendStrength {
		return nil, nil
	}
	if medium.VolumeRatio < e.cfg.VolumeRatioMin || medium.VolumeRatio > e.cfg.VolumeRatioMax {
		return nil, nil
	}
	if medium.AvgSeparationPct() < e.cfg.MinAvgSeparationPct {
		return nil, nil
	}

	confidence := e.confidence(action, short, medium, long)
	strength := e.strengthBucket(confidence)
	created := now.UTC()

	return &signal.Signal{
		ID:             uuid.NewString(),
		Symbol:         set.Symbol,
		Action:         action,
		Confidence:     confidence,
		Strength:       strength,
		ReferencePrice: short.LastClose,
		Status:         signal.StatusActive,
		IsPublic:       e.cfg.Public,
		Rationale:      e.rationale(action, short, medium, long, confidence),
		CreatedAt:      created,
		ExpiresAt:      created.Add(e.cfg.TTL),
		Snapshots: map[string]indicator.Snapshot{
			short.Timeframe:  short,
			medium.Timeframe: medium,
			long.Timeframe:   long,
		},
	}, nil
}

// bias reads one timeframe: EMA ordering gives direction, the oscillator zone
// vetoes entries into exhaustion (no buys when overbought, no sells when
// oversold).
func (e *Engine) bias(snap indicator.Snapshot) signal.Action {
	switch {
	case snap.FastAvg > snap.SlowAvg && snap.Oscillator < e.cfg.Indicator.OscOverbought:
		return signal.ActionBuy
	case snap.FastAvg < snap.SlowAvg && snap.Oscillator > e.cfg.Indicator.OscOversold:
		return signal.ActionSell
	default:
		return signal.ActionHold
	}
}

// confirmedAction requires short and medium to agree; the long timeframe may
// sit out (HOLD) but an opposite direction disqualifies the signal.
func (e *Engine) confirmedAction(short, medium, long indicator.Snapshot) signal.Action {
	s, m := e.bias(short), e.bias(medium)
	if s == signal.ActionHold || s != m {
		return signal.ActionHold
	}
	if l := e.bias(long); l != signal.ActionHold && l != s {
		return signal.ActionHold
	}
	return s
}

func (e *Engine) confidence(action signal.Action, short, medium, long indicator.Snapshot) float64 {
	w := e.cfg.Weights

	agreement := 70.0
	if e.bias(long) == action {
		agreement = 100.0
	}

	// Distance of the oscillator from neutral, in the trade direction.
	oscDelta := medium.Oscillator - 50
	if action == signal.ActionSell {
		oscDelta = -oscDelta
	}
	oscScore := clamp(50+oscDelta*2, 0, 100)

	trendScore := clamp(medium.TrendStrength*2, 0, 100)

	volScore := 0.0
	if e.cfg.VolumeRatioIdeal > 0 {
		dev := math.Abs(medium.VolumeRatio-e.cfg.VolumeRatioIdeal) / e.cfg.VolumeRatioIdeal
		volScore = clamp(100*(1-dev), 0, 100)
	}

	blended := (agreement*w.Agreement + oscScore*w.Oscillator + trendScore*w.Trend + volScore*w.Volume) / w.total()
	return math.Round(blended*100) / 100
}

func (e *Engine) strengthBucket(confidence float64) signal.Strength {
	cuts := e.cfg.ConfidenceCuts
	switch {
	case confidence < cuts[0]:
		return signal.StrengthWeak
	case confidence < cuts[1]:
		return signal.StrengthModerate
	case confidence < cuts[2]:
		return signal.StrengthStrong
	default:
		return signal.StrengthVeryStrong
	}
}

func (e *Engine) rationale(action signal.Action, short, medium, long indicator.Snapshot, confidence float64) string {
	longBias := e.bias(long)
	longNote := "neutral"
	if longBias == action {
		longNote = "confirming"
	}
	return fmt.Sprintf(
		"%s: %s/%s aligned, %s %s; osc=%.1f adx=%.1f vol=%.2fx sep=%.2f%% conf=%.1f",
		action, short.Timeframe, medium.Timeframe, long.Timeframe, longNote,
		medium.Oscillator, medium.TrendStrength, medium.VolumeRatio,
		medium.AvgSeparationPct(), confidence,
	)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
