package engine

import (
	"sync/atomic"
	"time"
)

// Metrics counts prefetcher activity. All counters are process-lifetime
// totals; Snapshot returns a consistent-enough copy for the ops surface.
type Metrics struct {
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	fetches        atomic.Int64
	fetchErrors    atomic.Int64
	fallbackUses   atomic.Int64
	coalescedWaits atomic.Int64
	fetchNanos     atomic.Int64
}

type MetricsSnapshot struct {
	CacheHits      int64         `json:"cache_hits"`
	CacheMisses    int64         `json:"cache_misses"`
	Fetches        int64         `json:"fetches"`
	FetchErrors    int64         `json:"fetch_errors"`
	FallbackUses   int64         `json:"fallback_uses"`
	CoalescedWaits int64         `json:"coalesced_waits"`
	AvgFetchTime   time.Duration `json:"avg_fetch_time_ns"`
}

func (m *Metrics) recordHit()       { m.cacheHits.Add(1) }
func (m *Metrics) recordMiss()      { m.cacheMisses.Add(1) }
func (m *Metrics) recordError()     { m.fetchErrors.Add(1) }
func (m *Metrics) recordFallback()  { m.fallbackUses.Add(1) }
func (m *Metrics) recordCoalesced() { m.coalescedWaits.Add(1) }

func (m *Metrics) recordFetch(elapsed time.Duration) {
	m.fetches.Add(1)
	m.fetchNanos.Add(int64(elapsed))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	out := MetricsSnapshot{
		CacheHits:      m.cacheHits.Load(),
		CacheMisses:    m.cacheMisses.Load(),
		Fetches:        m.fetches.Load(),
		FetchErrors:    m.fetchErrors.Load(),
		FallbackUses:   m.fallbackUses.Load(),
		CoalescedWaits: m.coalescedWaits.Load(),
	}
	if out.Fetches > 0 {
		out.AvgFetchTime = time.Duration(m.fetchNanos.Load() / out.Fetches)
	}
	return out
}
