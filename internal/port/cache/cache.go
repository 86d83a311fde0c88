// Package cache defines the key-value cache port used for short-lived
// lookups such as wallet balances.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values under string keys. A zero ttl means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
