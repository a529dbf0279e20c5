package market

import "context"

type SourceStats struct {
	Fetches    int
	Errors     int
	LastError  string
	RateLimits int
}

// Source is a per-provider adapter returning normalized market data.
// Implementations must be safe for concurrent use; the prefetcher fans
// fetches out across goroutines.
type Source interface {
	Name() string

	// GetPrice returns the latest spot price for asset quoted in the
	// configured quote currency.
	GetPrice(ctx context.Context, asset string) (float64, error)

	// GetKlines returns up to limit most-recent candles for asset at the
	// given interval, oldest first.
	GetKlines(ctx context.Context, asset, interval string, limit int) ([]Candle, error)

	Stats() SourceStats

	Close() error
}
