// Package kv provides the TTL key-value stores behind the result cache and
// the rate limiter. Writes are last-write-wins; there is no compare-and-set.
package kv

import (
	"context"
	"time"
)

// Store is a string-keyed byte store with per-key expiry.
type Store interface {
	// Get returns the value for key. found is false for missing or expired
	// keys.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key for ttl. A non-positive ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Clock returns the current time. Stores take one so tests can move time.
type Clock func() time.Time
