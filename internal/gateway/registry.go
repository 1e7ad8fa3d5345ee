package gateway

import (
	"sync"

	"go.uber.org/zap"

	"github.com/shoplane/chat-pipeline/pkg/logger"
)

// Registry owns the one live connection handle per identity in this process.
// It is constructed once at startup and passed explicitly to the router and
// connection handlers; there is no ambient global state.
type Registry struct {
	log *logger.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:   log,
		conns: make(map[string]*Conn),
	}
}

// Register binds a connection to its identity. A previous connection under
// the same identity is displaced and returned so the caller can close it.
func (r *Registry) Register(c *Conn) *Conn {
	r.mu.Lock()
	old := r.conns[c.Identity]
	r.conns[c.Identity] = c
	r.mu.Unlock()

	r.log.Info("connection registered", zap.String("identity", c.Identity))
	return old
}

// Unregister removes the connection, but only if it is still the one bound
// to the identity; a displaced connection must not evict its replacement.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	if r.conns[c.Identity] == c {
		delete(r.conns, c.Identity)
	}
	r.mu.Unlock()

	r.log.Info("connection unregistered", zap.String("identity", c.Identity))
}

// Lookup returns the live connection for an identity, if any.
func (r *Registry) Lookup(identity string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[identity]
	return c, ok
}

// CloseAll signals shutdown to every registered connection, used when the
// process is draining.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
