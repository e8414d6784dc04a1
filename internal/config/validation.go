package config

import (
	"fmt"
	"strings"

	"pulse/internal/scheduler"
)

// validate runs every startup check and reports all problems at once.
func validate(c *Config) error {
	var problems []string

	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("app.log_level %q is not one of debug/info/warn/error", c.App.LogLevel))
	}

	for _, sym := range c.Market.Symbols {
		if strings.TrimSpace(sym) == "" {
			problems = append(problems, "market.symbols contains an empty symbol")
			break
		}
	}
	for _, iv := range []struct{ name, val string }{
		{"market.short_interval", c.Market.ShortInterval},
		{"market.medium_interval", c.Market.MediumInterval},
		{"market.long_interval", c.Market.LongInterval},
	} {
		if _, ok := scheduler.ParseIntervalDuration(iv.val); !ok {
			problems = append(problems, fmt.Sprintf("%s %q is not a valid interval", iv.name, iv.val))
		}
	}
	if c.Market.ShortInterval == c.Market.MediumInterval || c.Market.MediumInterval == c.Market.LongInterval {
		problems = append(problems, "market timeframes must be three distinct intervals")
	}

	if err := c.Engine.EngineConfig().Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("engine: %v", err))
	}
	// A fetch window shorter than the indicator windows would pass startup
	// and then fail every single cycle; catch it here instead.
	if required := c.Engine.EngineConfig().Indicator.MinCandles(); c.Market.MinCandles < required {
		problems = append(problems, fmt.Sprintf("market.min_candles %d is below the %d candles the indicator windows need",
			c.Market.MinCandles, required))
	}
	if c.Market.CandleCount < c.Market.MinCandles {
		problems = append(problems, fmt.Sprintf("market.candle_count %d is below market.min_candles %d",
			c.Market.CandleCount, c.Market.MinCandles))
	}
	if n := len(c.Engine.ConfidenceCuts); n != 0 && n != 3 {
		problems = append(problems, fmt.Sprintf("engine.confidence_cuts needs exactly 3 values, got %d", n))
	}

	if c.Bot.DefaultMinConfidence < 0 || c.Bot.DefaultMinConfidence > 100 {
		problems = append(problems, fmt.Sprintf("bot.default_min_confidence %.1f out of [0,100]", c.Bot.DefaultMinConfidence))
	}

	if c.Profiles.Enabled && strings.TrimSpace(c.Profiles.Path) == "" {
		problems = append(problems, "profiles.enabled requires profiles.path")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
