package config

import (
	"time"

	"pulse/internal/engine"
	"pulse/internal/gateway/binance"
	"pulse/internal/market"
	"pulse/internal/runner"
)

// Config is the full runtime configuration, loaded once at startup.
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Engine   EngineConfig   `toml:"engine"`
	Bot      BotConfig      `toml:"bot"`
	Store    StoreConfig    `toml:"store"`
	HTTP     HTTPConfig     `toml:"http"`
	Profiles ProfilesConfig `toml:"profiles"`
}

type AppConfig struct {
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
}

type MarketConfig struct {
	Symbols         []string `toml:"symbols"`
	RESTBaseURL     string   `toml:"rest_base_url"`
	HTTPTimeoutSec  int      `toml:"http_timeout_sec"`
	ShortInterval   string   `toml:"short_interval"`
	MediumInterval  string   `toml:"medium_interval"`
	LongInterval    string   `toml:"long_interval"`
	CandleCount     int      `toml:"candle_count"`
	MinCandles      int      `toml:"min_candles"`
	MaxAttempts     int      `toml:"max_attempts"`
	RetryBackoffSec int      `toml:"retry_backoff_sec"`
	IntervalSec     int      `toml:"generation_interval_sec"`
	CycleTimeoutSec int      `toml:"cycle_timeout_sec"`
}

type EngineConfig struct {
	FastPeriod    int `toml:"fast_period"`
	SlowPeriod    int `toml:"slow_period"`
	OscPeriod     int `toml:"osc_period"`
	OscOversold   int `toml:"osc_oversold"`
	OscOverbought int `toml:"osc_overbought"`
	TrendPeriod   int `toml:"trend_period"`
	VolumePeriod  int `toml:"volume_period"`

	MinTrendStrength float64 `toml:"min_trend_strength"`
	VolumeRatioMin   float64 `toml:"volume_ratio_min"`
	VolumeRatioMax   float64 `toml:"volume_ratio_max"`
	VolumeRatioIdeal float64 `toml:"volume_ratio_ideal"`
	MinSeparationPct float64 `toml:"min_separation_pct"`

	WeightAgreement  float64 `toml:"weight_agreement"`
	WeightOscillator float64 `toml:"weight_oscillator"`
	WeightTrend      float64 `toml:"weight_trend"`
	WeightVolume     float64 `toml:"weight_volume"`

	ConfidenceCuts []float64 `toml:"confidence_cuts"`
	TTLMinutes     int       `toml:"ttl_minutes"`
	Public         bool      `toml:"public"`
}

type BotConfig struct {
	// DefaultMinConfidence applies when a decide request omits the field.
	DefaultMinConfidence float64 `toml:"default_min_confidence"`
	DecisionLogPath      string  `toml:"decision_log_path"`
}

type StoreConfig struct {
	SignalDBPath     string `toml:"signal_db_path"`
	RetentionHours   int    `toml:"retention_hours"`
	PurgeIntervalMin int    `toml:"purge_interval_min"`
}

type HTTPConfig struct {
	Listen           string `toml:"listen"`
	HeartbeatSec     int    `toml:"sse_heartbeat_sec"`
	SubscriberBuffer int    `toml:"subscriber_buffer"`
}

// HeartbeatDuration is the SSE keepalive cadence.
func (h HTTPConfig) HeartbeatDuration() time.Duration {
	return time.Duration(h.HeartbeatSec) * time.Second
}

type ProfilesConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// FetchConfig materializes the candle fetch settings.
func (m MarketConfig) FetchConfig() market.FetchConfig {
	return market.FetchConfig{
		ShortInterval:  m.ShortInterval,
		MediumInterval: m.MediumInterval,
		LongInterval:   m.LongInterval,
		CandleCount:    m.CandleCount,
		MinCandles:     m.MinCandles,
		MaxAttempts:    m.MaxAttempts,
		RetryBackoff:   time.Duration(m.RetryBackoffSec) * time.Second,
	}
}

// GatewayConfig materializes the exchange client settings.
func (m MarketConfig) GatewayConfig() binance.Config {
	return binance.Config{
		RESTBaseURL: m.RESTBaseURL,
		HTTPTimeout: time.Duration(m.HTTPTimeoutSec) * time.Second,
	}
}

// EngineConfig materializes the analysis thresholds.
func (e EngineConfig) EngineConfig() engine.Config {
	cfg := engine.Config{
		MinTrendStrength:    e.MinTrendStrength,
		VolumeRatioMin:      e.VolumeRatioMin,
		VolumeRatioMax:      e.VolumeRatioMax,
		VolumeRatioIdeal:    e.VolumeRatioIdeal,
		MinAvgSeparationPct: e.MinSeparationPct,
		Weights: engine.Weights{
			Agreement:  e.WeightAgreement,
			Oscillator: e.WeightOscillator,
			Trend:      e.WeightTrend,
			Volume:     e.WeightVolume,
		},
		TTL:    time.Duration(e.TTLMinutes) * time.Minute,
		Public: e.Public,
	}
	cfg.Indicator.FastPeriod = e.FastPeriod
	cfg.Indicator.SlowPeriod = e.SlowPeriod
	cfg.Indicator.OscPeriod = e.OscPeriod
	cfg.Indicator.OscOversold = float64(e.OscOversold)
	cfg.Indicator.OscOverbought = float64(e.OscOverbought)
	cfg.Indicator.TrendPeriod = e.TrendPeriod
	cfg.Indicator.VolumePeriod = e.VolumePeriod
	if len(e.ConfidenceCuts) == 3 {
		copy(cfg.ConfidenceCuts[:], e.ConfidenceCuts)
	}
	return cfg.WithDefaults()
}

// RunnerConfig materializes the generation loop settings.
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{
		Symbols:      c.Market.Symbols,
		Interval:     time.Duration(c.Market.IntervalSec) * time.Second,
		CycleTimeout: time.Duration(c.Market.CycleTimeoutSec) * time.Second,
		Engine:       c.Engine.EngineConfig(),
	}
}
