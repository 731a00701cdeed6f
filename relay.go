package relay

import "context"

// Role identifies which of the two client populations a connection belongs
// to. Producers issue commands and queries; consumers report events and
// answer with responses. Every message's Source field names the sending role.
type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// Opposite returns the complement role, which is always the destination
// population for messages sent by r.
func (r Role) Opposite() Role {
	if r == RoleProducer {
		return RoleConsumer
	}
	return RoleProducer
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleProducer || r == RoleConsumer
}

// Server is the relay's public surface. A Server accepts WebSocket
// connections from both populations, authenticates each connection on its
// first message, and relays validated messages to the opposite population.
//
// Example usage:
//
//	import "github.com/gamebridge/relay/ws"
//
//	srv := ws.NewServer(ws.ServerConfig{
//	    Addr: ":8080",
//	    Tokens: map[relay.Role][]string{
//	        relay.RoleProducer: {"p-token"},
//	        relay.RoleConsumer: {"c-token"},
//	    },
//	})
//	srv.Start(ctx)
type Server interface {
	// Start begins listening for connections. The server keeps running
	// until Stop is called or the context is cancelled.
	//
	// Returns an error if the server is already running or the listen
	// address cannot be bound.
	Start(ctx context.Context) error

	// Stop gracefully stops the server, closing all peer connections and
	// cancelling the heartbeat and latency-report timers.
	Stop(ctx context.Context) error

	// Snapshot returns a read-only view of the relay's current state:
	// connection counts per role, queue depth and latency aggregates.
	// It is intended for operational tooling, not for peers.
	Snapshot() Snapshot
}

// Peer is a single authenticated connection as seen by the relay core.
//
// A Peer is owned by the connection registry for its lifetime; it is
// registered after authentication succeeds and removed when the transport
// closes.
type Peer interface {
	// ID returns the connection's unique, opaque identifier.
	ID() string

	// Role returns the role assigned during authentication.
	Role() Role

	// Version returns the protocol version negotiated on the first message.
	Version() string

	// Send queues pre-serialized bytes for delivery. It never blocks on
	// network I/O; it fails fast when the connection is closed or its
	// outbound buffer is full.
	Send(data []byte) error

	// Alive reports whether the peer answered the most recent heartbeat.
	Alive() bool

	// Close terminates the connection.
	Close(ctx context.Context) error
}

// Snapshot is a point-in-time view of the relay, exposed for health checks.
type Snapshot struct {
	Producers  int             `json:"producers"`
	Consumers  int             `json:"consumers"`
	QueueDepth int             `json:"queueDepth"`
	Latency    LatencySnapshot `json:"latency"`
}

// LatencySnapshot is a deep copy of the latency monitor's current window.
type LatencySnapshot struct {
	Overall LatencyScope            `json:"overall"`
	PerType map[string]LatencyScope `json:"perType"`
}

// LatencyScope aggregates forwarding latency for one scope (overall or a
// single message type) within the current report window.
type LatencyScope struct {
	Count         int64   `json:"count"`
	TotalMs       float64 `json:"totalMs"`
	MinMs         float64 `json:"minMs"`
	MaxMs         float64 `json:"maxMs"`
	AvgMs         float64 `json:"avgMs"`
	OverThreshold int64   `json:"overThreshold"`
}
