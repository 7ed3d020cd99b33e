// Package sessionstore provides an ephemeral, thread-safe, in-memory
// registry of the FTP sessions a server currently holds open.
//
// # Purpose
//
// The server adds a session when a control connection is accepted and
// removes it when the session ends. Shutdown walks the store to close every
// session that is still open.
//
// # Concurrency Model
//
// The store uses sync.Map because:
//   - **Independent Keys:** every session is keyed by its own UUID and is
//     written exactly twice (add, remove)
//   - **Concurrent Readers:** shutdown and metrics read while sessions come
//     and go
//
// The session count is kept in an atomic counter so Len does not need to
// walk the map.
package sessionstore

import (
	"sync"
	"sync/atomic"
)

// Session is anything the server can close on shutdown.
type Session interface {
	Close() error
}

// Store is an in-memory set of open sessions keyed by session ID.
type Store struct {
	sessions sync.Map // Key: session ID string, Value: Session
	count    atomic.Int64
}

// New creates a new, empty session store.
func New() *Store {
	return &Store{}
}

// Add registers a session. Adding an existing ID replaces the session.
func (s *Store) Add(id string, sess Session) {
	if _, loaded := s.sessions.Swap(id, sess); !loaded {
		s.count.Add(1)
	}
}

// Remove forgets a session. Removing an unknown ID is a no-op.
func (s *Store) Remove(id string) {
	if _, loaded := s.sessions.LoadAndDelete(id); loaded {
		s.count.Add(-1)
	}
}

// Get returns the session registered under id.
func (s *Store) Get(id string) (Session, bool) {
	sess, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return sess.(Session), true
}

// Len returns the number of registered sessions.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// Range calls fn for every registered session. Sessions may be added or
// removed while Range runs.
func (s *Store) Range(fn func(id string, sess Session)) {
	s.sessions.Range(func(key, value any) bool {
		fn(key.(string), value.(Session))
		return true
	})
}
