package session

import (
	"sync"

	"bitchatmesh/internal/wire"
)

// Store is a mutex-guarded table of one Session per remote peer id,
// shaped after the teacher's session-store pattern: a plain map behind a
// single lock, since sessions are cheap and short-lived relative to the
// mesh's peer churn.
type Store struct {
	mu       sync.Mutex
	sessions map[[wire.PeerIDSize]byte]*Session
}

// NewStore returns an empty session table.
func NewStore() *Store {
	return &Store{sessions: make(map[[wire.PeerIDSize]byte]*Session)}
}

// GetOrCreate returns the existing session for peerID, or creates and
// stores a fresh StateNone session if none exists yet.
func (st *Store) GetOrCreate(peerID [wire.PeerIDSize]byte) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[peerID]; ok {
		return s
	}
	s := NewSession(peerID)
	st.sessions[peerID] = s
	return s
}

// Get returns the session for peerID, if any.
func (st *Store) Get(peerID [wire.PeerIDSize]byte) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[peerID]
	return s, ok
}

// Drop removes a session, used when a handshake fails or a peer goes stale.
func (st *Store) Drop(peerID [wire.PeerIDSize]byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, peerID)
}

// EvictExpired removes every session whose LivenessError is non-nil: an
// Established session past its 24h TTL, or a handshake that has sat
// InProgress past the 60s abandon timeout (spec.md §5). Returns the
// number removed.
func (st *Store) EvictExpired() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, s := range st.sessions {
		if s.LivenessError() != nil {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}

// Len reports the number of tracked sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
