package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// Sessions manages transcripts keyed by session id.
//
// Turns on one id are serialized: Do holds a per-id lock for the whole
// exchange, so two concurrent requests on the same id record their turns in
// processing order. Different ids never contend. The lock table is
// reference counted and entries disappear when the last holder leaves.
type Sessions struct {
	store Store

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{} // buffered(1): holding the token = holding the lock
	refs int
}

// NewSessions creates a manager over store. A nil store uses a default
// InMemoryStore.
func NewSessions(store Store) *Sessions {
	if store == nil {
		store = NewInMemoryStore()
	}
	return &Sessions{store: store, locks: make(map[string]*keyLock)}
}

// Store returns the underlying store.
func (s *Sessions) Store() Store { return s.store }

// Session is the view of one transcript handed to Do callbacks. It is only
// valid inside the callback.
type Session struct {
	id    string
	turns Transcript
	dirty bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Append records turns in order.
func (s *Session) Append(turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	s.turns = append(s.turns, turns...)
	s.dirty = true
}

// Transcript returns a copy of the turns recorded so far.
func (s *Session) Transcript() Transcript {
	out := make(Transcript, len(s.turns))
	copy(out, s.turns)
	return out
}

// Do runs fn with the session for id locked. Turns appended inside fn are
// persisted when fn returns, even when fn returns an error, so a failed
// exchange still keeps its user turn.
func (s *Sessions) Do(ctx context.Context, id string, fn func(*Session) error) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	fnErr := fn(sess)
	if sess.dirty {
		// a cancelled request must not lose turns it already produced
		if err := s.save(context.WithoutCancel(ctx), sess); err != nil {
			if fnErr != nil {
				return fmt.Errorf("%w (saving session: %v)", fnErr, err)
			}
			return err
		}
	}
	return fnErr
}

// GetOrCreate returns the transcript for id, creating an empty one when the
// id is new.
func (s *Sessions) GetOrCreate(ctx context.Context, id string) (Transcript, error) {
	var out Transcript
	err := s.Do(ctx, id, func(sess *Session) error {
		if len(sess.turns) == 0 {
			exists, err := s.store.Exists(ctx, id)
			if err != nil {
				return calque.WrapErr(ctx, err, "checking session")
			}
			if !exists {
				sess.dirty = true
			}
		}
		out = sess.Transcript()
		return nil
	})
	return out, err
}

// Append records turns on id.
func (s *Sessions) Append(ctx context.Context, id string, turns ...Turn) error {
	return s.Do(ctx, id, func(sess *Session) error {
		sess.Append(turns...)
		return nil
	})
}

// Transcript returns the turns of id. An unknown id yields an empty
// transcript, not an error.
func (s *Sessions) Transcript(ctx context.Context, id string) (Transcript, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Transcript(), nil
}

// Reset drops the transcript of id.
func (s *Sessions) Reset(ctx context.Context, id string) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return calque.WrapErr(ctx, err, "deleting session")
	}
	return nil
}

// Health checks the underlying store.
func (s *Sessions) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

// Close closes the underlying store.
func (s *Sessions) Close() error {
	return s.store.Close()
}

// lock acquires the per-id lock or gives up when ctx is done.
func (s *Sessions) lock(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			s.release(id, l)
		}, nil
	case <-ctx.Done():
		s.release(id, l)
		return nil, ctx.Err()
	}
}

func (s *Sessions) release(id string, l *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

// lockCount reports live lock entries.
func (s *Sessions) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func (s *Sessions) load(ctx context.Context, id string) (*Session, error) {
	data, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, calque.WrapErr(ctx, err, "loading session")
	}
	sess := &Session{id: id}
	if data == nil {
		return sess, nil
	}
	if err := json.Unmarshal(data, &sess.turns); err != nil {
		return nil, calque.WrapErr(ctx, err, "decoding session")
	}
	return sess, nil
}

func (s *Sessions) save(ctx context.Context, sess *Session) error {
	turns := sess.turns
	if turns == nil {
		turns = Transcript{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return calque.WrapErr(ctx, err, "encoding session")
	}
	if err := s.store.Set(ctx, sess.id, data); err != nil {
		return calque.WrapErr(ctx, err, "saving session")
	}
	return nil
}
