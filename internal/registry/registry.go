// Package registry keeps the process-wide table of online users and the live
// transport session each of them is currently bound to.
package registry

import (
	"sort"
	"sync"
)

// Session is the handle used to push events to one live transport
// connection. Two handles are the same session iff they compare equal.
type Session interface {
	// ID identifies the underlying connection for logging.
	ID() string
	// Push hands an encoded event to the connection's writer without
	// blocking. It fails when the connection is closed or backed up.
	Push(payload []byte) error
}

// Registry maps a user id to at most one Session. The zero value is not
// usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Register binds userID to s, overwriting any previous binding. The
// superseded session, if any, is returned; it is not closed.
func (r *Registry) Register(userID string, s Session) Session {
	if userID == "" || s == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[userID]
	r.sessions[userID] = s
	if prev == s {
		return nil
	}
	return prev
}

// Lookup returns the session currently bound to userID.
func (r *Registry) Lookup(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	return s, ok
}

// Deregister removes the binding for userID only while it still points at
// expected. It reports whether anything was removed, so a disconnect that
// lost the race against a newer registration leaves the newer one intact.
func (r *Registry) Deregister(userID string, expected Session) bool {
	if expected == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[userID]
	if !ok || current != expected {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// SnapshotKeys returns the registered user ids at call time, sorted.
func (r *Registry) SnapshotKeys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		keys = append(keys, userID)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
