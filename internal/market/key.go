package market

import (
	"fmt"
	"strings"
)

// KeyKind distinguishes the two data shapes the engine fetches.
type KeyKind int

const (
	KeyPrice KeyKind = iota
	KeyKlines
)

func (k KeyKind) String() string {
	switch k {
	case KeyPrice:
		return "prices"
	case KeyKlines:
		return "klines"
	default:
		return "unknown"
	}
}

// DataKey identifies one unit of upstream market data. Keys render as
// hierarchical cache keys: "prices:BTC" or "klines:BTC:1h:15".
type DataKey struct {
	Kind     KeyKind
	Asset    string
	Interval string
	Limit    int
}

func PriceKey(asset string) DataKey {
	return DataKey{Kind: KeyPrice, Asset: strings.ToUpper(strings.TrimSpace(asset))}
}

func KlinesKey(asset, interval string, limit int) DataKey {
	return DataKey{
		Kind:     KeyKlines,
		Asset:    strings.ToUpper(strings.TrimSpace(asset)),
		Interval: strings.ToLower(strings.TrimSpace(interval)),
		Limit:    limit,
	}
}

func (k DataKey) String() string {
	if k.Kind == KeyPrice {
		return fmt.Sprintf("prices:%s", k.Asset)
	}
	return fmt.Sprintf("klines:%s:%s:%d", k.Asset, k.Interval, k.Limit)
}

// SeriesID identifies a kline series independent of the requested depth.
// The prefetcher merges keys sharing a SeriesID into one fetch at max depth.
func (k DataKey) SeriesID() string {
	if k.Kind == KeyPrice {
		return k.String()
	}
	return fmt.Sprintf("klines:%s:%s", k.Asset, k.Interval)
}
