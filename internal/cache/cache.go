// Package cache defines the TTL key-value store backing the prefetcher.
// Keys are hierarchical strings such as "prices:BTC" or "klines:BTC:1h:15";
// values are serialized by the caller.
package cache

import (
	"context"
	"time"
)

type Store interface {
	// Get returns the value for key and whether it was present and fresh.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with the given TTL. Writes are keyed and
	// idempotent; last writer wins.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key, used for explicit invalidation.
	Delete(ctx context.Context, key string) error

	Close() error
}
