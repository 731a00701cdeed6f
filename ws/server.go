// Package ws exposes the relay's public constructors over the internal
// WebSocket implementation.
package ws

import (
	"net/http"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/websocket"
)

type ServerConfig = websocket.ServerConfig
type ClientConfig = websocket.ClientConfig
type Client = websocket.Client
type ClientState = websocket.ClientState
type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn

// NewServer creates a relay server.
//
// Example:
//
//	srv := ws.NewServer(ws.ServerConfig{
//	    Addr: ":8080",
//	    Tokens: map[relay.Role][]string{
//	        relay.RoleProducer: {"producer-token"},
//	        relay.RoleConsumer: {"consumer-token"},
//	    },
//	})
func NewServer(cfg ServerConfig) relay.Server {
	return websocket.NewServer(cfg)
}

// NewClient creates an outbound relay client with reconnection handling.
func NewClient(cfg ClientConfig) *Client {
	return websocket.NewClient(cfg)
}

// AllOrigins returns a check that allows any origin. Intended for
// non-browser peers and development.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// Origins returns a check allowing only the listed origins. Requests
// without an Origin header (non-browser clients) are allowed.
func Origins(allowed ...string) CheckOriginFn {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return set[origin]
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
