// Package relay implements a WebSocket relay that bridges two disjoint
// client populations: producers (tool-invoking clients issuing commands and
// queries) and consumers (game-state clients reporting events and answering
// with responses).
//
// The relay authenticates every connection on its first message, validates
// each subsequent message against the wire schema, enforces a static
// role-capability matrix, and fans messages out to every connection of the
// opposite role. Messages that cannot be delivered are held in a bounded
// drop-oldest queue and retried when a destination connects.
//
// # Architecture
//
// Each accepted connection runs its own read loop and pushes parsed messages
// onto a single router-owned channel; the router is the sole consumer, so
// registry and queue mutation is serialized without fine-grained locking in
// the hot path. Outbound sends go through a buffered per-connection writer
// and never block the router.
//
// # Quick Start
//
//	import (
//	    "github.com/gamebridge/relay"
//	    "github.com/gamebridge/relay/ws"
//	)
//
//	srv := ws.NewServer(ws.ServerConfig{
//	    Addr: ":8080",
//	    Tokens: map[relay.Role][]string{
//	        relay.RoleProducer: {"producer-token"},
//	        relay.RoleConsumer: {"consumer-token"},
//	    },
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Wire Protocol
//
// Every frame is a JSON envelope:
//
//	{
//	    "version":   "1.0.0",
//	    "type":      "event|command|query|response|error",
//	    "id":        "<correlation id>",
//	    "timestamp": 1700000000000,
//	    "source":    "producer|consumer",
//	    "payload":   { ... }
//	}
//
// The correlation id ties a command or query to its eventual response or
// error across the two hops; the relay itself never reuses it. The first
// message on a new connection must carry a token field in its payload; the
// connection is closed immediately if no configured token set matches.
//
// # Latency Budget
//
// The relay tracks per-type forwarding latency against a soft 100 ms budget.
// Breaches are logged as they happen and aggregate reports are emitted on a
// periodic timer; each report window is independent, not cumulative.
//
// # Security Features
//
//   - First-message token authentication with per-role token sets
//   - Role capability matrix (consumers cannot issue commands or queries)
//   - Denylist of dangerous command prefixes, checked regardless of role
//   - Per-connection rate limiting (token bucket)
//   - Configurable maximum message size and origin validation
//
// # Important
//
//   - Delivery is best-effort at-least-once per destination; there is no
//     cross-connection ordering guarantee.
//   - Configure allowed origins in production; the default accepts any
//     origin and is intended for non-browser peers.
package relay
