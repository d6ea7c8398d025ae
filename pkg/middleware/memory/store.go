package memory

import (
	"context"
	"errors"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("session store closed")

// Store maps a session id to its encoded transcript.
//
// Implementations: InMemoryStore (default), badger (embedded, persistent),
// redis (shared across replicas).
type Store interface {
	// Get returns the stored value, or nil and no error when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value, refreshing any expiry.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Health checks if the store is available
	Health(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
