// Package core declares the ports between fleetpush services and their storage adapters.
package core

import (
	"context"
	"time"
)

// CacheRepository defines the interface for key/value caching. It backs the registry's
// site snapshot cache and the agent's applied-command ledger.
type CacheRepository interface {
	// Set stores a value with the given TTL. A zero TTL never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns nil without error when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	// SetIfNotExists atomically sets a key only if it is absent.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Health(ctx context.Context) error
}
