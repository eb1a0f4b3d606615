package gateway

import (
	"sync"

	"github.com/google/uuid"
)

// Registry maps user ids to their set of live gateway connections.
// A user may hold any number of concurrent connections (multi-device).
// All operations are safe for concurrent use; connection lifecycle
// events race with dispatch reads.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[uuid.UUID]*Conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID]map[uuid.UUID]*Conn)}
}

// Register adds a connection for the user and assigns it a fresh
// connection id, returned for later unregistration.
func (r *Registry) Register(userID uuid.UUID, c *Conn) uuid.UUID {
	id := uuid.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	c.ID = id
	userConns := r.conns[userID]
	if userConns == nil {
		userConns = make(map[uuid.UUID]*Conn)
		r.conns[userID] = userConns
	}
	userConns[id] = c
	return id
}

// Unregister removes a single connection. The user's other connections
// are unaffected. Unknown ids are ignored.
func (r *Registry) Unregister(userID, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userConns := r.conns[userID]
	if userConns == nil {
		return
	}
	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(r.conns, userID)
	}
}

// ConnectionsFor returns a snapshot of the user's live connections.
// The returned slice is safe to iterate while the registry mutates.
// A user with no connections yields an empty slice.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns := r.conns[userID]
	out := make([]*Conn, 0, len(userConns))
	for _, c := range userConns {
		out = append(out, c)
	}
	return out
}

// Count returns the total number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, userConns := range r.conns {
		total += len(userConns)
	}
	return total
}
