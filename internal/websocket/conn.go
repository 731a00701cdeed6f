package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gamebridge/relay"
)

// RateLimitConfig defines per-connection inbound rate limiting.
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a peer can send per second.
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity).
	Burst int
	// Enabled determines if rate limiting is active.
	Enabled bool
}

// DefaultRateLimitConfig allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// Conn wraps one accepted WebSocket connection. It implements relay.Peer
// once the auth gate has assigned it a role.
type Conn struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	ctx        context.Context
	cancel     context.CancelFunc

	role    relay.Role
	version string

	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	alive       atomic.Bool
	rateLimiter *rate.Limiter
	logger      zerolog.Logger
}

// NewConn wraps an upgraded connection and starts its write pump. The
// connection starts out alive; the heartbeat supervisor clears and probes
// the flag on its own schedule.
func NewConn(ws *websocket.Conn, remoteAddr string, rl *RateLimitConfig, logger zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rl != nil && rl.Enabled {
		limiter = rate.NewLimiter(rl.MessagesPerSecond, rl.Burst)
	}

	c := &Conn{
		id:          uuid.New().String(),
		conn:        ws,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, 256),
		rateLimiter: limiter,
		logger:      logger,
	}
	c.alive.Store(true)

	go c.writePump()
	return c
}

// ID returns the connection's unique identifier, generated at accept time
// and constant for the connection's lifetime.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer's remote network address.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Context is cancelled when the connection closes.
func (c *Conn) Context() context.Context { return c.ctx }

// Role returns the role assigned during authentication; empty until then.
func (c *Conn) Role() relay.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Version returns the protocol version negotiated on the first message.
func (c *Conn) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// setIdentity associates the resolved role and negotiated version with the
// transport handle for the remainder of the connection's life.
func (c *Conn) setIdentity(role relay.Role, version string) {
	c.mu.Lock()
	c.role = role
	c.version = version
	c.mu.Unlock()
}

// Send queues pre-serialized bytes for delivery. It never waits on network
// I/O: a closed connection or a full outbound buffer fails immediately so
// fan-out to other destinations is not delayed.
func (c *Conn) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return relay.ErrConnectionClosed
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
		return relay.ErrSendBufferFull
	}
}

// Alive reports whether the peer answered the most recent heartbeat probe.
func (c *Conn) Alive() bool { return c.alive.Load() }

// SetAlive updates the liveness flag. The heartbeat supervisor clears it
// before each ping; the pong handler sets it back.
func (c *Conn) SetAlive(v bool) { c.alive.Store(v) }

// Ping sends a WebSocket ping control frame. Safe to call concurrently
// with queued data writes.
func (c *Conn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close closes the connection gracefully.
func (c *Conn) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a specific close code and
// optional reason. Closing twice is a no-op.
func (c *Conn) CloseWithCode(ctx context.Context, code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, deadline)

	close(c.sendCh)
	return c.conn.Close()
}

// sendNow writes synchronously, bypassing the outbound queue. Only safe
// while nothing has been queued yet, i.e. before the connection is
// registered.
func (c *Conn) sendNow(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// CheckRateLimit reports whether another inbound message is allowed.
func (c *Conn) CheckRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

const writeWait = 10 * time.Second

// writePump drains the send channel onto the wire. Sends are issued
// back-to-back without waiting for peer acknowledgement.
func (c *Conn) writePump() {
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Str("conn_id", c.id).Err(err).Msg("write failed")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
