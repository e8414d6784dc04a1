package market

import (
	"fmt"
	"math"
)

// Candle is a closed OHLCV aggregate for one timeframe.
// Times are epoch milliseconds, matching the exchange wire format.
type Candle struct {
	Timeframe string  `json:"timeframe,omitempty"`
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// ValidateSeries rejects a candle series that cannot back an indicator
// computation: too short for the longest lookback window, timestamps not
// strictly increasing, or any non-finite numeric field.
func ValidateSeries(candles []Candle, minLen int) error {
	if len(candles) < minLen {
		return fmt.Errorf("%w: %d candles, need at least %d", ErrValidation, len(candles), minLen)
	}
	prev := int64(0)
	for i, c := range candles {
		if c.OpenTime <= prev {
			return fmt.Errorf("%w: non-monotonic open time at index %d", ErrValidation, i)
		}
		prev = c.OpenTime
		for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite value at index %d", ErrValidation, i)
			}
		}
	}
	return nil
}

// LastClose returns the close of the most recent candle, or 0 for an empty series.
func LastClose(candles []Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Close
}
