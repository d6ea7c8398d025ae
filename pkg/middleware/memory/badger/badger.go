// Package badger provides a BadgerDB implementation of memory.Store for
// single-node deployments that keep sessions across restarts.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/calque-ai/guidebot/pkg/middleware/memory"
)

// Config configures a Store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM; useful for tests.
	InMemory bool

	// TTL is applied to every write. Zero keeps entries forever.
	TTL time.Duration
}

// Store implements memory.Store using BadgerDB.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

var _ memory.Store = (*Store)(nil)

// Open opens (or creates) the database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required")
	}
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, ttl: cfg.TTL}, nil
}

// Get retrieves a value by key, returns nil if not found
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var result []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			result = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return result, nil
}

// Set stores value, resetting its TTL.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

// Delete removes a value by key
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger exists %s: %w", key, err)
	}
	return true, nil
}

// Health reports an error once the database is closed.
func (s *Store) Health(context.Context) error {
	if s.db.IsClosed() {
		return memory.ErrStoreClosed
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}
