// Package presence owns the relay's shared in-memory state: which connections
// each user holds and which users occupy each room. All access goes through
// the Registry and Table types; both are safe for concurrent use.
package presence

import (
	"sync"

	"github.com/Tyrowin/lfgrelay/internal/protocol"
)

// Conn is one live client session. A user may hold several at once.
type Conn interface {
	// ID is unique among live connections.
	ID() string
	// User is the identity bound at handshake.
	User() protocol.User
	// Send queues an encoded frame without blocking. It reports false when the
	// connection is closed or cannot accept more output.
	Send(msg []byte) bool
}

// Registry maps user ids to their live connections. A user with no
// connections has no entry.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]map[string]Conn)}
}

// Add registers c under its user and reports whether it is the user's first
// live connection.
func (r *Registry) Add(c Conn) bool {
	userID := c.User().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[userID]
	if conns == nil {
		conns = make(map[string]Conn)
		r.byUser[userID] = conns
	}
	conns[c.ID()] = c
	return len(conns) == 1
}

// Remove drops c and reports whether it was the user's last connection.
// Removing an unknown connection is a no-op that reports false.
func (r *Registry) Remove(c Conn) bool {
	userID := c.User().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byUser[userID]
	if !ok {
		return false
	}
	if _, ok := conns[c.ID()]; !ok {
		return false
	}
	delete(conns, c.ID())
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// Lookup returns a snapshot of the user's live connections.
func (r *Registry) Lookup(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Users returns the number of users with a live connection.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Connections returns the total number of live connections.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.byUser {
		n += len(conns)
	}
	return n
}
