// Package store provides durable storage backends for the cache's L2 tier.
package store

import (
	"context"
	"errors"
	"time"
)

// Common store errors.
var (
	// ErrNotFound indicates that the key was not found in the store.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed indicates that the store has been closed.
	ErrClosed = errors.New("store: closed")
)

// Store is the interface the tiered cache uses for its durable tier.
// The value representation is opaque; namespaces keep entity kinds from
// colliding. Implementations may be shared across process instances with
// last-write-wins semantics.
type Store interface {
	// Get retrieves a value. Returns ErrNotFound if absent or expired.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Set stores a value with the given TTL. A TTL of 0 means the entry
	// never expires.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// Delete removes a value. Deleting an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Close releases resources held by the store.
	Close() error
}
