package market

import "errors"

var (
	// ErrDataUnavailable marks an upstream fetch that exhausted its retries.
	// The generation cycle aborts and the next scheduled tick is the retry.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrValidation marks a malformed or insufficient candle series.
	ErrValidation = errors.New("candle series invalid")
)
