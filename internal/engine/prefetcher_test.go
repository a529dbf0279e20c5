package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentinel/internal/cache"
	"sentinel/internal/market"
)

type fakeSource struct {
	mu         sync.Mutex
	name       string
	price      float64
	failPrice  bool
	failKlines bool
	priceCalls int
	klineCalls int
	lastLimit  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) GetPrice(ctx context.Context, asset string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	if f.failPrice {
		return 0, errors.New("price endpoint down")
	}
	return f.price, nil
}

func (f *fakeSource) GetKlines(ctx context.Context, asset, interval string, limit int) ([]market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.klineCalls++
	f.lastLimit = limit
	if f.failKlines {
		return nil, errors.New("kline endpoint down")
	}
	out := make([]market.Candle, limit)
	for i := range out {
		out[i] = market.Candle{Close: 100 + float64(i), Volume: 10}
	}
	return out, nil
}

func (f *fakeSource) Stats() market.SourceStats { return market.SourceStats{} }
func (f *fakeSource) Close() error              { return nil }

func (f *fakeSource) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priceCalls, f.klineCalls
}

func quickConfig() PrefetcherConfig {
	return PrefetcherConfig{MaxAttempts: 1, BackoffBase: time.Millisecond}
}

func TestSnapshotDeduplicatesKeys(t *testing.T) {
	src := &fakeSource{name: "primary", price: 50500}
	p := NewPrefetcher(cache.NewMemory(), src, nil, quickConfig())

	// three rules wanting the same price and overlapping kline depths
	reqs := []KeyRequest{
		{Key: market.PriceKey("BTC"), MaxTTL: time.Minute},
		{Key: market.PriceKey("BTC"), MaxTTL: 5 * time.Minute},
		{Key: market.KlinesKey("BTC", "1h", 15), MaxTTL: time.Minute},
		{Key: market.KlinesKey("BTC", "1h", 35), MaxTTL: time.Minute},
	}
	snap := p.Snapshot(context.Background(), reqs)

	priceCalls, klineCalls := src.calls()
	assert.Equal(t, 1, priceCalls)
	assert.Equal(t, 1, klineCalls)
	assert.Equal(t, 35, src.lastLimit, "merged fetch uses the deepest requested limit")

	price, ok := snap.Price("BTC")
	assert.True(t, ok)
	assert.Equal(t, 50500.0, price)
	candles, ok := snap.Klines("BTC", "1h")
	assert.True(t, ok)
	assert.Len(t, candles, 35)
	assert.Zero(t, snap.MissingCount())
}

func TestSnapshotServesFreshCacheWithoutFetching(t *testing.T) {
	src := &fakeSource{name: "primary", price: 42}
	p := NewPrefetcher(cache.NewMemory(), src, nil, quickConfig())

	reqs := []KeyRequest{{Key: market.PriceKey("ETH"), MaxTTL: time.Minute}}
	p.Snapshot(context.Background(), reqs)
	snap := p.Snapshot(context.Background(), reqs)

	priceCalls, _ := src.calls()
	assert.Equal(t, 1, priceCalls, "second tick within TTL must hit the cache")
	price, ok := snap.Price("ETH")
	assert.True(t, ok)
	assert.Equal(t, 42.0, price)
	assert.GreaterOrEqual(t, p.Metrics().CacheHits, int64(1))
}

func TestSnapshotFallsBackToSecondarySource(t *testing.T) {
	primary := &fakeSource{name: "primary", failPrice: true}
	fallback := &fakeSource{name: "fallback", price: 51000}
	p := NewPrefetcher(cache.NewMemory(), primary, fallback, quickConfig())

	snap := p.Snapshot(context.Background(), []KeyRequest{{Key: market.PriceKey("BTC")}})

	price, ok := snap.Price("BTC")
	assert.True(t, ok)
	assert.Equal(t, 51000.0, price)
	assert.GreaterOrEqual(t, p.Metrics().FallbackUses, int64(1))
}

func TestSnapshotMarksUnresolvableKeysMissing(t *testing.T) {
	primary := &fakeSource{name: "primary", failPrice: true, failKlines: true}
	fallback := &fakeSource{name: "fallback", failPrice: true, failKlines: true}
	p := NewPrefetcher(cache.NewMemory(), primary, fallback, quickConfig())

	key := market.PriceKey("BTC")
	snap := p.Snapshot(context.Background(), []KeyRequest{{Key: key}})

	_, ok := snap.Price("BTC")
	assert.False(t, ok)
	assert.Equal(t, 1, snap.MissingCount())
	reason, ok := snap.MissingReason(key)
	assert.True(t, ok)
	assert.Contains(t, reason, "data unavailable")

	// downstream: the evaluator must degrade, never report false
	c := mustCompile(t, "price_alert", map[string]any{
		"asset": "BTC", "direction": "above", "target_price": 50000,
	})
	o := NewConditionEvaluator().Evaluate(c, snap)
	assert.Equal(t, Indeterminate, o.Result)
}

func TestBreakerSkipsFailingPrimary(t *testing.T) {
	primary := &fakeSource{name: "primary", failPrice: true}
	fallback := &fakeSource{name: "fallback", price: 51000}
	cfg := quickConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Hour
	p := NewPrefetcher(cache.NewMemory(), primary, fallback, cfg)

	// distinct keys so the cache never short-circuits the fetch path
	assets := []string{"BTC", "ETH", "SOL", "BNB"}
	for _, asset := range assets {
		p.Snapshot(context.Background(), []KeyRequest{{Key: market.PriceKey(asset)}})
	}

	priceCalls, _ := primary.calls()
	assert.Equal(t, 2, priceCalls, "breaker opens after two failures and skips the primary")
	fbCalls, _ := fallback.calls()
	assert.Equal(t, len(assets), fbCalls)
}

func TestMergeRequestsKeepsTightestTTL(t *testing.T) {
	merged := mergeRequests([]KeyRequest{
		{Key: market.KlinesKey("BTC", "1h", 15), MaxTTL: 5 * time.Minute},
		{Key: market.KlinesKey("BTC", "1h", 20), MaxTTL: time.Minute},
		{Key: market.KlinesKey("ETH", "1h", 20), MaxTTL: time.Minute},
	})
	assert.Len(t, merged, 2)
	assert.Equal(t, 20, merged[0].Key.Limit)
	assert.Equal(t, time.Minute, merged[0].MaxTTL)
	assert.Equal(t, "ETH", merged[1].Key.Asset)
}
