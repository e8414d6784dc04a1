package market

import "context"

// Source fetches historical klines from one exchange.
type Source interface {
	// FetchHistory returns up to limit closed candles for symbol+interval,
	// oldest first. The in-progress candle must already be dropped.
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Close() error
}
