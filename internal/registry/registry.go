// Package registry maps bound identities to their live connections. An
// identity is bound to at most one connection at a time; binding it again
// evicts the previous connection.
package registry

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Conn is the outbound side of a client connection.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Registry is a goroutine-safe identity -> Conn table.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Conn
	log    zerolog.Logger
}

// New creates an empty Registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]Conn),
		log:    log,
	}
}

// Bind associates identity with conn. If a different connection was bound
// to identity it is returned and closed; the caller can then tear down any
// state tied to it.
func (r *Registry) Bind(identity string, conn Conn) (evicted Conn) {
	r.mu.Lock()
	prev, ok := r.byName[identity]
	r.byName[identity] = conn
	r.mu.Unlock()

	if !ok || prev == conn {
		return nil
	}
	if err := prev.Close(); err != nil {
		r.log.Debug().Err(err).Str("identity", identity).Msg("close evicted connection")
	}
	r.log.Info().Str("identity", identity).Msg("identity rebound, previous connection evicted")
	return prev
}

// Unbind removes identity only if it is still bound to conn. It returns
// false when the binding was already replaced, which marks conn as stale.
func (r *Registry) Unbind(identity string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byName[identity]
	if !ok || cur != conn {
		return false
	}
	delete(r.byName, identity)
	return true
}

// Lookup returns the connection bound to identity.
func (r *Registry) Lookup(identity string) (Conn, bool) {
	r.mu.RLock()
	conn, ok := r.byName[identity]
	r.mu.RUnlock()
	return conn, ok
}

// Online reports whether identity has a bound connection.
func (r *Registry) Online(identity string) bool {
	_, ok := r.Lookup(identity)
	return ok
}

// Send writes data to identity's connection. It returns false if the
// identity is offline or the write failed.
func (r *Registry) Send(identity string, data []byte) bool {
	conn, ok := r.Lookup(identity)
	if !ok {
		return false
	}
	if err := conn.Send(data); err != nil {
		r.log.Warn().Err(err).Str("identity", identity).Msg("send failed")
		return false
	}
	return true
}

// Count returns the number of bound identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byName)
	r.mu.RUnlock()
	return n
}

// Identities returns a sorted snapshot of every bound identity.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}
