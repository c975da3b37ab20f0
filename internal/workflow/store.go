package workflow

import "sync"

// Store holds the active editing session of each clinician. Sessions are
// in-memory only; the durable part (the latest draft) lives in the draft
// cache repository.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get returns the clinician's session, if one exists.
func (st *Store) Get(userID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[userID]
	return s, ok
}

// GetOrCreate returns the clinician's session, creating an idle one if
// needed.
func (st *Store) GetOrCreate(userID string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[userID]; ok {
		return s
	}
	s := newSession(userID)
	st.sessions[userID] = s
	return s
}
