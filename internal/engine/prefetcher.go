package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"sentinel/internal/cache"
	"sentinel/internal/logger"
	"sentinel/internal/market"
	"sentinel/internal/pkg/circuit"
)

// ErrDataUnavailable marks a key whose providers were exhausted this tick.
// Evaluators treat it as indeterminate; it never aborts a batch.
var ErrDataUnavailable = errors.New("data unavailable")

// KeyRequest is one data key a batch needs, with the shortest evaluation
// interval of any rule depending on it. The cache TTL for the key is clamped
// to MaxTTL so a 1-minute rule never reads hour-old data.
type KeyRequest struct {
	Key    market.DataKey
	MaxTTL time.Duration
}

type PrefetcherConfig struct {
	PriceTTL         time.Duration
	KlineTTL         time.Duration
	MaxConcurrent    int
	MaxAttempts      int
	BackoffBase      time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

func (c *PrefetcherConfig) withDefaults() PrefetcherConfig {
	out := *c
	if out.PriceTTL <= 0 {
		out.PriceTTL = 30 * time.Second
	}
	if out.KlineTTL <= 0 {
		out.KlineTTL = 60 * time.Second
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 8
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 200 * time.Millisecond
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerTimeout <= 0 {
		out.BreakerTimeout = 30 * time.Second
	}
	return out
}

// Prefetcher resolves the deduplicated key set of a batch into a Snapshot,
// serving fresh cache entries without upstream calls and fetching each
// distinct key at most once per tick. Concurrent requests for the same key
// are coalesced onto a single in-flight fetch.
type Prefetcher struct {
	cfg      PrefetcherConfig
	cache    cache.Store
	primary  market.Source
	fallback market.Source // may be nil

	flight  singleflight.Group
	breaker *circuit.Breaker
	metrics Metrics
	nowFn   func() time.Time
}

func NewPrefetcher(store cache.Store, primary, fallback market.Source, cfg PrefetcherConfig) *Prefetcher {
	cfg = cfg.withDefaults()
	return &Prefetcher{
		cfg:      cfg,
		cache:    store,
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.NewBreaker(primary.Name(), cfg.BreakerThreshold, cfg.BreakerTimeout),
		nowFn:    time.Now,
	}
}

func (p *Prefetcher) Metrics() MetricsSnapshot {
	return p.metrics.Snapshot()
}

// Snapshot resolves every request into one evaluation context. Individual key
// failures never raise; unresolvable keys are marked missing so evaluators
// degrade to indeterminate instead of crashing the batch.
func (p *Prefetcher) Snapshot(ctx context.Context, reqs []KeyRequest) *Snapshot {
	snap := newSnapshot(p.nowFn())
	merged := mergeRequests(reqs)
	if len(merged) == 0 {
		return snap
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrent)
	for _, req := range merged {
		req := req
		g.Go(func() error {
			switch req.Key.Kind {
			case market.KeyPrice:
				price, err := p.resolvePrice(gctx, req)
				mu.Lock()
				if err != nil {
					snap.markMissing(req.Key, err.Error())
				} else {
					snap.setPrice(req.Key.Asset, price)
				}
				mu.Unlock()
			case market.KeyKlines:
				candles, err := p.resolveKlines(gctx, req)
				mu.Lock()
				if err != nil {
					snap.markMissing(req.Key, err.Error())
				} else {
					snap.setKlines(req.Key.SeriesID(), candles)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return snap
}

// mergeRequests collapses the required-key sets of all rules in a batch: a
// key needed by N rules appears once, kline series merge to the deepest
// requested limit, and the TTL clamp keeps the tightest bound.
func mergeRequests(reqs []KeyRequest) []KeyRequest {
	bySeries := make(map[string]KeyRequest, len(reqs))
	order := make([]string, 0, len(reqs))
	for _, req := range reqs {
		id := req.Key.SeriesID()
		cur, ok := bySeries[id]
		if !ok {
			bySeries[id] = req
			order = append(order, id)
			continue
		}
		if req.Key.Limit > cur.Key.Limit {
			cur.Key.Limit = req.Key.Limit
		}
		if req.MaxTTL > 0 && (cur.MaxTTL <= 0 || req.MaxTTL < cur.MaxTTL) {
			cur.MaxTTL = req.MaxTTL
		}
		bySeries[id] = cur
	}
	out := make([]KeyRequest, 0, len(order))
	for _, id := range order {
		out = append(out, bySeries[id])
	}
	return out
}

func (p *Prefetcher) resolvePrice(ctx context.Context, req KeyRequest) (float64, error) {
	cacheKey := req.Key.String()
	if raw, ok, err := p.cache.Get(ctx, cacheKey); err == nil && ok {
		if v, perr := strconv.ParseFloat(raw, 64); perr == nil {
			p.metrics.recordHit()
			return v, nil
		}
		logger.Warnf("prefetcher: cached value for %s is not a float, refetching", cacheKey)
	}
	p.metrics.recordMiss()

	v, err, shared := p.flight.Do(cacheKey, func() (any, error) {
		var price float64
		err := p.fetchWithFallback(ctx, req.Key, func(src market.Source) error {
			var ferr error
			price, ferr = src.GetPrice(ctx, req.Key.Asset)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		ttl := p.clampTTL(p.cfg.PriceTTL, req.MaxTTL)
		if cerr := p.cache.Set(ctx, cacheKey, strconv.FormatFloat(price, 'f', -1, 64), ttl); cerr != nil {
			logger.Warnf("prefetcher: caching %s failed: %v", cacheKey, cerr)
		}
		return price, nil
	})
	if shared {
		p.metrics.recordCoalesced()
	}
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (p *Prefetcher) resolveKlines(ctx context.Context, req KeyRequest) ([]market.Candle, error) {
	cacheKey := req.Key.String()
	if raw, ok, err := p.cache.Get(ctx, cacheKey); err == nil && ok {
		var candles []market.Candle
		if jerr := json.Unmarshal([]byte(raw), &candles); jerr == nil && len(candles) >= req.Key.Limit {
			p.metrics.recordHit()
			return candles, nil
		}
		logger.Warnf("prefetcher: cached klines for %s unusable, refetching", cacheKey)
	}
	p.metrics.recordMiss()

	v, err, shared := p.flight.Do(cacheKey, func() (any, error) {
		var candles []market.Candle
		err := p.fetchWithFallback(ctx, req.Key, func(src market.Source) error {
			var ferr error
			candles, ferr = src.GetKlines(ctx, req.Key.Asset, req.Key.Interval, req.Key.Limit)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		if raw, jerr := json.Marshal(candles); jerr == nil {
			ttl := p.clampTTL(p.cfg.KlineTTL, req.MaxTTL)
			if cerr := p.cache.Set(ctx, cacheKey, string(raw), ttl); cerr != nil {
				logger.Warnf("prefetcher: caching %s failed: %v", cacheKey, cerr)
			}
		}
		return candles, nil
	})
	if shared {
		p.metrics.recordCoalesced()
	}
	if err != nil {
		return nil, err
	}
	return v.([]market.Candle), nil
}

// fetchWithFallback retries the primary provider with exponential backoff and
// jitter, then falls back to the secondary provider if one is registered.
// A circuit breaker skips the primary entirely while it keeps failing.
func (p *Prefetcher) fetchWithFallback(ctx context.Context, key market.DataKey, do func(market.Source) error) error {
	primaryErr := fmt.Errorf("%s circuit open", p.primary.Name())
	if p.breaker.Allow() {
		primaryErr = p.fetchWithRetry(ctx, p.primary, do)
		if primaryErr == nil {
			p.breaker.RecordSuccess()
			return nil
		}
		p.breaker.RecordFailure()
	}
	if p.fallback == nil {
		return fmt.Errorf("%w for %s: %v", ErrDataUnavailable, key, primaryErr)
	}
	p.metrics.recordFallback()
	logger.Warnf("prefetcher: %s exhausted on %s (%v), trying %s", key, p.primary.Name(), primaryErr, p.fallback.Name())
	if err := p.fetchWithRetry(ctx, p.fallback, do); err != nil {
		return fmt.Errorf("%w for %s: primary: %v; fallback: %v", ErrDataUnavailable, key, primaryErr, err)
	}
	return nil
}

func (p *Prefetcher) fetchWithRetry(ctx context.Context, src market.Source, do func(market.Source) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := p.cfg.BackoffBase << (attempt - 1)
			wait += time.Duration(rand.Int63n(int64(p.cfg.BackoffBase)))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		started := p.nowFn()
		err := do(src)
		if err == nil {
			p.metrics.recordFetch(p.nowFn().Sub(started))
			return nil
		}
		p.metrics.recordError()
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (p *Prefetcher) clampTTL(ttl, maxTTL time.Duration) time.Duration {
	if maxTTL > 0 && maxTTL < ttl {
		return maxTTL
	}
	return ttl
}
