package memory

import (
	"context"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Defaults for InMemoryStore.
const (
	DefaultTTL             = 24 * time.Hour
	DefaultMaxSessions     = 10000
	DefaultCleanupInterval = 10 * time.Minute
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// InMemoryStore keeps sessions in process memory.
//
// Entries are ordered by last use: reads and writes move an entry to the
// back, so the front is always the least recently used. When MaxSessions is
// exceeded the front is evicted. Expired entries are invisible to readers
// and are swept by a background goroutine until Close.
type InMemoryStore struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, entry]

	ttl         time.Duration
	maxSessions int
	interval    time.Duration
	now         func() time.Time

	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithTTL sets the idle expiry. Zero or negative disables expiry.
func WithTTL(ttl time.Duration) InMemoryOption {
	return func(s *InMemoryStore) { s.ttl = ttl }
}

// WithMaxSessions caps the number of retained sessions. Zero disables the cap.
func WithMaxSessions(n int) InMemoryOption {
	return func(s *InMemoryStore) { s.maxSessions = n }
}

// WithCleanupInterval sets how often expired entries are swept. Zero
// disables the sweeper; expired entries are still hidden from readers.
func WithCleanupInterval(d time.Duration) InMemoryOption {
	return func(s *InMemoryStore) { s.interval = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryStore) { s.now = now }
}

// NewInMemoryStore creates a store and starts its sweeper.
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		entries:     orderedmap.New[string, entry](),
		ttl:         DefaultTTL,
		maxSessions: DefaultMaxSessions,
		interval:    DefaultCleanupInterval,
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.interval > 0 && s.ttl > 0 {
		go s.sweepLoop()
	} else {
		close(s.done)
	}
	return s
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	e, ok := s.live(key)
	if !ok {
		return nil, nil
	}
	e.expiresAt = s.expiry()
	s.entries.Set(key, e)
	_ = s.entries.MoveToBack(key)

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set implements Store.
func (s *InMemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries.Set(key, entry{value: stored, expiresAt: s.expiry()})
	_ = s.entries.MoveToBack(key)

	for s.maxSessions > 0 && s.entries.Len() > s.maxSessions {
		oldest := s.entries.Oldest()
		s.entries.Delete(oldest.Key)
	}
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.entries.Delete(key)
	return nil
}

// Exists implements Store. It does not refresh the entry.
func (s *InMemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	_, ok := s.live(key)
	return ok, nil
}

// Len returns the number of retained entries, expired or not.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Health implements Store.
func (s *InMemoryStore) Health(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close stops the sweeper. Further calls return ErrStoreClosed.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	<-s.done
	return nil
}

// Sweep removes expired entries and returns how many were removed.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl <= 0 {
		return 0
	}

	now := s.now()
	removed := 0
	// expiry is refreshed on every touch, so front entries expire first
	for pair := s.entries.Oldest(); pair != nil; {
		if now.Before(pair.Value.expiresAt) {
			break
		}
		next := pair.Next()
		s.entries.Delete(pair.Key)
		removed++
		pair = next
	}
	return removed
}

func (s *InMemoryStore) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// live returns the entry for key, dropping it when expired. Caller holds mu.
func (s *InMemoryStore) live(key string) (entry, bool) {
	e, ok := s.entries.Get(key)
	if !ok {
		return entry{}, false
	}
	if s.ttl > 0 && !s.now().Before(e.expiresAt) {
		s.entries.Delete(key)
		return entry{}, false
	}
	return e, true
}

func (s *InMemoryStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}
