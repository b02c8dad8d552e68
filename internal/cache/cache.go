// Package cache stores issued bearer tokens against their cache key.
//
// Stores are an optimisation, not a dependency: callers treat any error as a
// cache miss and continue to the authorization server.
package cache

import (
	"context"
	"time"
)

// Store is a key/value store for bearer tokens with store-managed expiry.
// Entries are never updated in place or deleted: they are overwritten by a
// later write or expire.
type Store interface {
	// Get retrieves a token. Returns the token, whether it was found, and any
	// error. A missing key is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetWithExpiry stores a token that the store will expire after ttl. A
	// non-positive ttl is a no-op: an already expired token is never written.
	SetWithExpiry(ctx context.Context, key string, token string, ttl time.Duration) error

	// Ping reports whether the store connection is alive.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
