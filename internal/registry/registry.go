// Package registry tracks the set of currently-connected, authenticated
// peers. It is the sole owner of a connection for its registered lifetime.
package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gamebridge/relay"
)

type entry struct {
	peer        relay.Peer
	role        relay.Role
	version     string
	connectedAt time.Time
}

// Registry holds live connections keyed by connection id. All methods are
// safe for concurrent use; reads return snapshots, never live references.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]entry
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]entry),
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Add registers a connection under its id. A second Add with the same id
// replaces the previous entry; connection ids are unique among registered
// connections.
func (r *Registry) Add(id string, peer relay.Peer, role relay.Role, version string) {
	r.mu.Lock()
	r.conns[id] = entry{peer: peer, role: role, version: version, connectedAt: time.Now()}
	r.mu.Unlock()

	r.logger.Info().
		Str("conn_id", id).
		Str("role", string(role)).
		Str("version", version).
		Msg("connection registered")
}

// Remove deregisters a connection. It is a no-op if the id is absent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info().Str("conn_id", id).Msg("connection deregistered")
	}
}

// ListByRole returns a snapshot of every connection with the given role.
// The returned slice is a copy; registry updates never mutate it.
func (r *Registry) ListByRole(role relay.Role) []relay.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var peers []relay.Peer
	for _, e := range r.conns {
		if e.role == role {
			peers = append(peers, e.peer)
		}
	}
	return peers
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []relay.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]relay.Peer, 0, len(r.conns))
	for _, e := range r.conns {
		peers = append(peers, e.peer)
	}
	return peers
}

// CountByRole returns the number of registered connections per role.
func (r *Registry) CountByRole() map[relay.Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[relay.Role]int, 2)
	for _, e := range r.conns {
		counts[e.role]++
	}
	return counts
}

// Contains reports whether a connection id is currently registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}
