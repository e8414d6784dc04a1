package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  log_level: debug
market:
  symbols: [BTCUSDT, ETHUSDT]
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Market.Symbols)
	assert.Equal(t, "1m", cfg.Market.ShortInterval)
	assert.Equal(t, "3m", cfg.Market.MediumInterval)
	assert.Equal(t, "15m", cfg.Market.LongInterval)
	assert.Equal(t, 100, cfg.Market.CandleCount)
	assert.Equal(t, 50, cfg.Market.MinCandles)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, 7*24, cfg.Store.RetentionHours)
	assert.Equal(t, 60.0, cfg.Bot.DefaultMinConfidence)
}

func TestLoadWeaklyTypedValues(t *testing.T) {
	// String-typed numbers must coerce.
	cfg, err := Load(writeConfig(t, `
market:
  generation_interval_sec: "90"
engine:
  min_trend_strength: "25"
`))
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Market.IntervalSec)
	assert.Equal(t, 25.0, cfg.Engine.MinTrendStrength)
}

func TestRunnerConfigMaterialization(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
market:
  symbols: [BTCUSDT]
  generation_interval_sec: 120
  cycle_timeout_sec: 45
engine:
  ttl_minutes: 20
  confidence_cuts: [40, 60, 80]
`))
	require.NoError(t, err)

	rc := cfg.RunnerConfig()
	assert.Equal(t, 2*time.Minute, rc.Interval)
	assert.Equal(t, 45*time.Second, rc.CycleTimeout)
	assert.Equal(t, 20*time.Minute, rc.Engine.TTL)
	assert.Equal(t, [3]float64{40, 60, 80}, rc.Engine.ConfidenceCuts)
	// Unset indicator settings land on library defaults.
	assert.Equal(t, 9, rc.Engine.Indicator.FastPeriod)
	assert.Equal(t, 21, rc.Engine.Indicator.SlowPeriod)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad log level", "app:\n  log_level: loud\n", "app.log_level"},
		{"bad interval", "market:\n  short_interval: 7q\n", "not a valid interval"},
		{"duplicate timeframes", "market:\n  short_interval: 3m\n  medium_interval: 3m\n", "distinct intervals"},
		{"inverted indicator periods", "engine:\n  fast_period: 30\n  slow_period: 10\n", "engine:"},
		{"min_candles below indicator windows", "market:\n  min_candles: 10\n", "market.min_candles"},
		{"candle_count below min_candles", "market:\n  candle_count: 60\n  min_candles: 80\n", "market.candle_count"},
		{"profiles without path", "profiles:\n  enabled: true\n", "profiles.path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}
