package fanout

import (
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Registry tracks connected listeners. Connections are keyed by a generated
// ID so a failed writer can be removed without touching the others.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*websocket.Conn)}
}

// Add registers a connection and returns its key.
func (r *Registry) Add(conn *websocket.Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = conn
	r.mu.Unlock()
	return id
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Snapshot returns the current connections without holding the lock during
// writes.
func (r *Registry) Snapshot() map[string]*websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*websocket.Conn, len(r.conns))
	for id, conn := range r.conns {
		out[id] = conn
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
