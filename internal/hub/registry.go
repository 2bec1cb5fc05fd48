// Package hub tracks live client connections and fans messages out to them.
package hub

import "sync"

// Conn is a live, ordered, reliable text channel to one client. Two Conns are
// the same connection only if they are the same value (pointer identity).
type Conn interface {
	// Send hands text to the connection for delivery. A non-nil error means
	// the connection can no longer be delivered to.
	Send(text string) error
	Close() error
}

// Registry is the set of currently open connections. Entries keep insertion
// order, but nothing relies on it. Add does not deduplicate: callers add a
// connection exactly once per accepted handshake.
type Registry struct {
	mu    sync.RWMutex
	conns []Conn
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends conn.
func (r *Registry) Add(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, conn)
}

// Remove drops the first entry for conn and reports whether one was found.
// Removing an absent connection is a no-op, so a disconnect racing with a
// failed-send prune is harmless.
func (r *Registry) Remove(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.conns {
		if c == conn {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current entries, safe to range over while
// the registry is being mutated.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]Conn, len(r.conns))
	copy(snapshot, r.conns)
	return snapshot
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
