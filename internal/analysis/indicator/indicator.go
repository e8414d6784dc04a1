package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"pulse/internal/market"
)

// Settings holds every tunable the scoring path reads. Deployments tune
// these per account size, so nothing here is a hard-coded constant.
type Settings struct {
	// FastPeriod/SlowPeriod drive the EMA pair; trend direction comes from
	// their ordering.
	FastPeriod int `toml:"fast_period" json:"fast_period"`
	SlowPeriod int `toml:"slow_period" json:"slow_period"`

	// OscPeriod drives the RSI; Oversold/Overbought bound its zones.
	OscPeriod     int     `toml:"osc_period" json:"osc_period"`
	OscOversold   float64 `toml:"osc_oversold" json:"osc_oversold"`
	OscOverbought float64 `toml:"osc_overbought" json:"osc_overbought"`

	// TrendPeriod drives the ADX trend-strength measure; low readings mean
	// a ranging market and are filtered upstream.
	TrendPeriod int `toml:"trend_period" json:"trend_period"`

	// VolumePeriod sizes the rolling volume baseline for the volume ratio.
	VolumePeriod int `toml:"volume_period" json:"volume_period"`
}

func (s Settings) WithDefaults() Settings {
	if s.FastPeriod <= 0 {
		s.FastPeriod = 9
	}
	if s.SlowPeriod <= 0 {
		s.SlowPeriod = 21
	}
	if s.OscPeriod <= 0 {
		s.OscPeriod = 14
	}
	if s.OscOversold <= 0 {
		s.OscOversold = 30
	}
	if s.OscOverbought <= 0 {
		s.OscOverbought = 70
	}
	if s.TrendPeriod <= 0 {
		s.TrendPeriod = 14
	}
	if s.VolumePeriod <= 0 {
		s.VolumePeriod = 20
	}
	return s
}

// MinCandles is the shortest series that yields a valid value for every
// indicator in the snapshot. ADX needs roughly twice its period to settle.
func (s Settings) MinCandles() int {
	s = s.WithDefaults()
	need := s.SlowPeriod
	if v := s.OscPeriod + 1; v > need {
		need = v
	}
	if v := s.TrendPeriod * 2; v > need {
		need = v
	}
	if v := s.VolumePeriod; v > need {
		need = v
	}
	return need + 1
}

// Snapshot is the per-timeframe indicator bundle embedded in a signal for
// audit. Derived data only, never persisted on its own.
type Snapshot struct {
	Timeframe     string  `json:"timeframe"`
	FastAvg       float64 `json:"fast_avg"`
	SlowAvg       float64 `json:"slow_avg"`
	Oscillator    float64 `json:"oscillator"`
	TrendStrength float64 `json:"trend_strength"`
	VolumeRatio   float64 `json:"volume_ratio"`
	LastClose     float64 `json:"last_close"`
	Candles       int     `json:"candles"`
}

// Compute derives one Snapshot from an ordered candle series. Pure and
// deterministic: identical candles and settings always produce identical
// output.
func Compute(candles []market.Candle, cfg Settings) (Snapshot, error) {
	cfg = cfg.WithDefaults()
	if len(candles) < cfg.MinCandles() {
		return Snapshot{}, fmt.Errorf("need %d candles, have %d", cfg.MinCandles(), len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	snap := Snapshot{
		LastClose: closes[len(closes)-1],
		Candles:   len(candles),
	}
	if len(candles) > 0 {
		snap.Timeframe = candles[0].Timeframe
	}

	snap.FastAvg = round4(lastValid(talib.Ema(closes, cfg.FastPeriod)))
	snap.SlowAvg = round4(lastValid(talib.Ema(closes, cfg.SlowPeriod)))
	snap.Oscillator = round4(lastValid(talib.Rsi(closes, cfg.OscPeriod)))
	snap.TrendStrength = round4(lastValid(talib.Adx(highs, lows, closes, cfg.TrendPeriod)))

	baseline := lastValid(talib.Sma(volumes, cfg.VolumePeriod))
	if baseline > 0 {
		snap.VolumeRatio = round4(volumes[len(volumes)-1] / baseline)
	}
	return snap, nil
}

// AvgSeparationPct is the fast/slow EMA distance as a percentage of the slow
// average; the engine uses it as a momentum-strength filter.
func (s Snapshot) AvgSeparationPct() float64 {
	if s.SlowAvg == 0 {
		return 0
	}
	return round4(math.Abs(s.FastAvg-s.SlowAvg) / s.SlowAvg * 100)
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) && !almostZero(v) {
			return v
		}
	}
	return 0
}

func almostZero(v float64) bool {
	return math.Abs(v) <= 1e-9
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
