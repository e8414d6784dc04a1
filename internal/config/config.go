package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config at path, applies defaults, and validates.
// Any validation failure is fatal to startup by design: a half-configured
// generator quietly produces wrong signals.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if len(c.Market.Symbols) == 0 {
		c.Market.Symbols = []string{"BTCUSDT"}
	}
	if c.Market.ShortInterval == "" {
		c.Market.ShortInterval = "1m"
	}
	if c.Market.MediumInterval == "" {
		c.Market.MediumInterval = "3m"
	}
	if c.Market.LongInterval == "" {
		c.Market.LongInterval = "15m"
	}
	if c.Market.CandleCount <= 0 {
		c.Market.CandleCount = 100
	}
	if c.Market.MinCandles <= 0 {
		c.Market.MinCandles = 50
	}
	if c.Market.IntervalSec <= 0 {
		c.Market.IntervalSec = 60
	}
	if c.Market.CycleTimeoutSec <= 0 {
		c.Market.CycleTimeoutSec = 30
	}
	if c.Bot.DefaultMinConfidence <= 0 {
		c.Bot.DefaultMinConfidence = 60
	}
	if c.Bot.DecisionLogPath == "" {
		c.Bot.DecisionLogPath = "data/decisions.db"
	}
	if c.Store.SignalDBPath == "" {
		c.Store.SignalDBPath = "data/pulse.db"
	}
	if c.Store.RetentionHours <= 0 {
		c.Store.RetentionHours = 7 * 24
	}
	if c.Store.PurgeIntervalMin <= 0 {
		c.Store.PurgeIntervalMin = 60
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.HTTP.HeartbeatSec <= 0 {
		c.HTTP.HeartbeatSec = 15
	}
	if c.HTTP.SubscriberBuffer <= 0 {
		c.HTTP.SubscriberBuffer = 16
	}
}
