// Package media streams consultation audio from the engine and enforces the
// single-active-stream rule: each user plays at most one recording at a time.
package media

import (
	"sync"
)

// Registry tracks the active playback per user. Starting a different
// recording displaces the current one; starting the same recording again is
// a toggle and stops it.
type Registry struct {
	mu     sync.Mutex
	active map[string]*stream
}

type stream struct {
	recordID int64
	cancel   func()
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*stream)}
}

// Start registers a new playback for the user. It cancels any playback in
// flight. If the same record is already playing, the playback is stopped
// instead and Start reports false. Displacement and registration happen in
// one critical section so two racing Starts can never leave both streams
// live.
func (r *Registry) Start(userID string, recordID int64, cancel func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.active[userID]; ok {
		delete(r.active, userID)
		cur.cancel()
		if cur.recordID == recordID {
			return false
		}
	}

	r.active[userID] = &stream{recordID: recordID, cancel: cancel}
	return true
}

// Stop ends the user's playback if the given record is the one playing.
func (r *Registry) Stop(userID string, recordID int64) {
	r.mu.Lock()
	cur, ok := r.active[userID]
	if !ok || cur.recordID != recordID {
		r.mu.Unlock()
		return
	}
	delete(r.active, userID)
	r.mu.Unlock()
	cur.cancel()
}

// Finish clears the registration once a stream ends on its own. It only
// removes the entry if the given record is still the active one.
func (r *Registry) Finish(userID string, recordID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[userID]; ok && cur.recordID == recordID {
		delete(r.active, userID)
	}
}

// Playing returns the id of the record currently playing for the user.
func (r *Registry) Playing(userID string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.active[userID]
	if !ok {
		return 0, false
	}
	return cur.recordID, true
}
