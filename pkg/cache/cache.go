// Package cache provides the TTL key-value store used for idempotency-key
// deduplication. The store is injected into services, never reached for as
// process-wide state, so single-instance deployments can run the in-memory
// backend while multi-instance deployments share a Redis backend.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is the minimal TTL capability: get, set-with-ttl, sweep.
type Store interface {
	// Get returns the value for key, or ErrNotFound when absent/expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key for ttl. A non-positive ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only when key is absent. Returns true when the
	// value was stored, false when the key already existed.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Sweep removes expired entries. A no-op for backends with native expiry.
	Sweep(ctx context.Context) error
}
