package engine

import (
	"time"

	"sentinel/internal/market"
)

// Snapshot is the per-tick evaluation context: an immutable mapping from data
// key to the most recent value, built exclusively by the prefetcher before
// any rule evaluates. All rules in a batch observe the same snapshot, so a
// rule's decision is self-consistent even though rules evaluate concurrently.
type Snapshot struct {
	TakenAt time.Time

	prices  map[string]float64
	klines  map[string][]market.Candle
	missing map[string]string
}

func newSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		TakenAt: now,
		prices:  make(map[string]float64),
		klines:  make(map[string][]market.Candle),
		missing: make(map[string]string),
	}
}

func (s *Snapshot) setPrice(asset string, price float64) {
	s.prices[asset] = price
}

func (s *Snapshot) setKlines(seriesID string, candles []market.Candle) {
	s.klines[seriesID] = candles
}

func (s *Snapshot) markMissing(key market.DataKey, reason string) {
	s.missing[key.SeriesID()] = reason
}

// Price returns the snapshot price for an asset.
func (s *Snapshot) Price(asset string) (float64, bool) {
	v, ok := s.prices[asset]
	return v, ok
}

// Klines returns the snapshot candle series for asset+interval, oldest first.
func (s *Snapshot) Klines(asset, interval string) ([]market.Candle, bool) {
	v, ok := s.klines[market.KlinesKey(asset, interval, 0).SeriesID()]
	return v, ok
}

// MissingReason reports why a key was omitted from the snapshot, if it was.
func (s *Snapshot) MissingReason(key market.DataKey) (string, bool) {
	r, ok := s.missing[key.SeriesID()]
	return r, ok
}

// MissingCount returns how many requested keys could not be resolved.
func (s *Snapshot) MissingCount() int {
	return len(s.missing)
}
