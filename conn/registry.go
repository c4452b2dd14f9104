package conn

import "sync"

// Registry tracks every live Connection by id, the Go equivalent of
// pjs/server.py's Server.conns dict ({connId => (JID, Connection)}) minus
// the JID half, which callers track separately once a resource binds
// (see router.Resources).
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Connection
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Connection)}
}

// Add registers c. It does not remove c when c closes; callers pass New an
// onClose callback that calls Remove.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	r.byID[c.ID] = c
	r.mu.Unlock()
}

// Remove drops c from the registry.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	delete(r.byID, c.ID)
	r.mu.Unlock()
}

// Get looks up a live connection by id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// All returns a snapshot of every currently registered connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// Send implements dispatch.Sink by looking up the connection for connID
// and forwarding to it — the registry-wide counterpart of
// pjs/events.py's pickupResults, which scanned all active servers for the
// connection owning a given id.
func (r *Registry) Send(connID, data string) {
	if c, ok := r.Get(connID); ok {
		c.Send(connID, data)
	}
}
