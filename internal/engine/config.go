package engine

import (
	"fmt"
	"time"

	"pulse/internal/analysis/indicator"
)

// Weights blends the four confidence factors. They are normalized at use, so
// only their relative sizes matter.
type Weights struct {
	Agreement  float64 `toml:"agreement" json:"agreement"`
	Oscillator float64 `toml:"oscillator" json:"oscillator"`
	Trend      float64 `toml:"trend" json:"trend"`
	Volume     float64 `toml:"volume" json:"volume"`
}

func (w Weights) total() float64 {
	return w.Agreement + w.Oscillator + w.Trend + w.Volume
}

// Config carries every threshold the analysis pass consults. All values are
// deployment-tunable; defaults are applied once at load, never inside the
// scoring path.
type Config struct {
	Indicator indicator.Settings `toml:"indicator" json:"indicator"`

	// MinTrendStrength filters ranging markets (ADX floor).
	MinTrendStrength float64 `toml:"min_trend_strength" json:"min_trend_strength"`

	// VolumeRatio bounds exclude abnormally thin or spiking volume; Ideal is
	// the ratio scored as perfect in the confidence blend.
	VolumeRatioMin   float64 `toml:"volume_ratio_min" json:"volume_ratio_min"`
	VolumeRatioMax   float64 `toml:"volume_ratio_max" json:"volume_ratio_max"`
	VolumeRatioIdeal float64 `toml:"volume_ratio_ideal" json:"volume_ratio_ideal"`

	// MinAvgSeparationPct is the minimum fast/slow EMA distance (percent of
	// the slow average) for the move to count as momentum, not noise.
	MinAvgSeparationPct float64 `toml:"min_avg_separation_pct" json:"min_avg_separation_pct"`

	Weights Weights `toml:"weights" json:"weights"`

	// ConfidenceCuts maps confidence to strength buckets:
	// below [0] WEAK, below [1] MODERATE, below [2] STRONG, else VERY_STRONG.
	ConfidenceCuts [3]float64 `toml:"confidence_cuts" json:"confidence_cuts"`

	// TTL is how long a generated signal stays ACTIVE absent execution.
	TTL time.Duration `toml:"ttl" json:"ttl"`

	// Public gates inclusion of generated signals in broad feeds.
	Public bool `toml:"public" json:"public"`
}

func (c Config) WithDefaults() Config {
	c.Indicator = c.Indicator.WithDefaults()
	if c.MinTrendStrength <= 0 {
		c.MinTrendStrength = 20
	}
	if c.VolumeRatioMin <= 0 {
		c.VolumeRatioMin = 0.8
	}
	if c.VolumeRatioMax <= 0 {
		c.VolumeRatioMax = 2.0
	}
	if c.VolumeRatioIdeal <= 0 {
		c.VolumeRatioIdeal = 1.5
	}
	if c.MinAvgSeparationPct <= 0 {
		c.MinAvgSeparationPct = 0.1
	}
	if c.Weights.total() <= 0 {
		c.Weights = Weights{Agreement: 0.30, Oscillator: 0.25, Trend: 0.25, Volume: 0.20}
	}
	if c.ConfidenceCuts == [3]float64{} {
		c.ConfidenceCuts = [3]float64{50, 70, 85}
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	return c
}

// Validate rejects configurations that would make the scoring path behave
// unpredictably. Called at startup; a failure prevents any cycle from running.
func (c Config) Validate() error {
	if c.Indicator.FastPeriod >= c.Indicator.SlowPeriod {
		return fmt.Errorf("engine: fast_period (%d) must be below slow_period (%d)",
			c.Indicator.FastPeriod, c.Indicator.SlowPeriod)
	}
	if c.Indicator.OscOversold >= c.Indicator.OscOverbought {
		return fmt.Errorf("engine: osc_oversold (%.1f) must be below osc_overbought (%.1f)",
			c.Indicator.OscOversold, c.Indicator.OscOverbought)
	}
	if c.VolumeRatioMin >= c.VolumeRatioMax {
		return fmt.Errorf("engine: volume_ratio_min (%.2f) must be below volume_ratio_max (%.2f)",
			c.VolumeRatioMin, c.VolumeRatioMax)
	}
	if !(c.ConfidenceCuts[0] < c.ConfidenceCuts[1] && c.ConfidenceCuts[1] < c.ConfidenceCuts[2]) {
		return fmt.Errorf("engine: confidence_cuts must be strictly increasing, got %v", c.ConfidenceCuts)
	}
	if c.ConfidenceCuts[2] > 100 {
		return fmt.Errorf("engine: confidence_cuts must stay within [0,100], got %v", c.ConfidenceCuts)
	}
	if c.Weights.total() <= 0 {
		return fmt.Errorf("engine: weights must sum to a positive value")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("engine: ttl must be positive")
	}
	return nil
}
