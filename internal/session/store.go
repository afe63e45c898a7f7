// Package session keeps the in-memory participant session records, the
// single source of truth for where each participant is in the protocol.
package session

import (
	"sync"

	"github.com/avh-lab/repchat/internal/domain"
)

// Store is a keyed store of participant sessions. A process-wide RWMutex
// guards the map; each session additionally carries its own lock so that
// concurrent requests for the same session serialize while requests for
// different sessions never contend.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session *domain.ParticipantSession
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

// Create registers a new session. Session IDs are generated once and
// never reused, so a collision is a programming error.
func (s *Store) Create(sess *domain.ParticipantSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.SessionID]; exists {
		return domain.ErrInvalidSession
	}
	s.sessions[sess.SessionID] = &entry{session: sess}
	return nil
}

// Get returns a deep snapshot of the session, taken under its lock.
// Readers can walk the snapshot freely while Mutate keeps writing to
// the stored record; all mutation goes through Mutate.
func (s *Store) Get(id string) (*domain.ParticipantSession, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrInvalidSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// Mutate runs fn under the session's lock. Terminal sessions reject all
// mutation: once COMPLETE or REDIRECTED_OUT, stored data never changes.
func (s *Store) Mutate(id string, fn func(*domain.ParticipantSession) error) error {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrInvalidSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Stage.Terminal() {
		return domain.ErrInvalidSession
	}
	return fn(e.session)
}

// Len reports the number of known sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
