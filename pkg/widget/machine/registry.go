package machine

import (
	"sync"
)

// Registry tracks every live widget session by id, the way
// acp.SessionManager tracks ACP sessions by instance id. A host application
// uses it to look up a session for routing inbound frames and to clean up
// on disconnect.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Machine
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Machine)}
}

// Add registers a session under id, replacing any existing one.
func (r *Registry) Add(id string, m *Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = m
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[id]
	return m, ok
}

// Remove drops a session from the registry and closes it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	m, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		m.Close()
	}
}

// Len reports how many sessions are currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
