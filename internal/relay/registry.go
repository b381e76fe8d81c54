package relay

import (
	"sort"
	"sync"
)

// Registry tracks live sessions by connection ID.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     Options
}

// NewRegistry creates an empty registry whose sessions share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
}

// GetOrCreate returns the session for connID, creating it bound to transport
// if none exists.
func (r *Registry) GetOrCreate(connID string, transport Transport) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[connID]; ok {
		return s
	}
	s := NewSession(connID, transport, r.opts)
	r.sessions[connID] = s
	return s
}

// Get returns the session for connID.
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// Remove forgets connID. Removing an unknown ID is a no-op.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connID)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the live connection IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes and removes every session. If afterClose is non-nil it is
// called with each session once that session is closed, so the caller can
// finish the connection behind it.
func (r *Registry) CloseAll(afterClose func(*Session)) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
		if afterClose != nil {
			afterClose(s)
		}
	}
}
