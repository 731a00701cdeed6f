package websocket

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/protocol"
)

// ClientState names the reconnection lifecycle states.
type ClientState string

const (
	StateIdle           ClientState = "idle"
	StateConnecting     ClientState = "connecting"
	StateConnected      ClientState = "connected"
	StateRetryScheduled ClientState = "retry-scheduled"
	StateGivenUp        ClientState = "given-up"
	StateDisconnected   ClientState = "disconnected"
)

const (
	// DefaultMaxAttempts is how many reconnects are tried before giving up.
	DefaultMaxAttempts = 5
	// DefaultInitialDelay seeds the exponential backoff.
	DefaultInitialDelay = 1 * time.Second
	// DefaultMaxDelay caps the backoff growth.
	DefaultMaxDelay = 30 * time.Second
)

// ClientConfig configures an outbound relay client.
type ClientConfig struct {
	URL    string
	Token  string
	Source relay.Role

	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	Clock  clock.Clock
	Logger zerolog.Logger

	// OnMessage receives every inbound envelope. Called from the read
	// goroutine; implementations must not block for long.
	OnMessage func(*protocol.Message)
	// OnGiveUp fires once when reconnection attempts are exhausted.
	OnGiveUp func()
}

// Client maintains an outbound connection to the relay. On every close it
// schedules a reconnect after min(initialDelay * 2^attempts, maxDelay),
// gives up permanently once the attempt budget is spent, and resets the
// attempt counter on a successful open. Disconnect is terminal and cancels
// any pending retry timer.
type Client struct {
	cfg    ClientConfig
	clock  clock.Clock
	logger zerolog.Logger

	// dial is swappable in tests.
	dial func() (*gorilla.Conn, error)

	mu         sync.Mutex
	state      ClientState
	attempts   int
	retryTimer *clock.Timer
	conn       *gorilla.Conn
	reconnect  bool

	writeMu sync.Mutex
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Source == "" {
		cfg.Source = relay.RoleConsumer
	}

	c := &Client{
		cfg:       cfg,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With().Str("component", "client").Logger(),
		state:     StateIdle,
		reconnect: true,
	}
	c.dial = func() (*gorilla.Conn, error) {
		dialer := gorilla.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.Dial(cfg.URL, nil)
		return conn, err
	}
	return c
}

// Connect performs the first connection attempt. On failure the backoff
// cycle starts in the background and the dial error is returned.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return relay.ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	return c.open()
}

// Disconnect is a terminal, user-initiated transition. It cancels any
// pending retry timer and never schedules reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.reconnect = false
	c.state = StateDisconnected
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		message := gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "")
		_ = conn.WriteControl(gorilla.CloseMessage, message, time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// State returns the current lifecycle state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the current reconnect attempt counter.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Send serializes and writes one envelope.
func (c *Client) Send(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return relay.ErrConnectionClosed
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(gorilla.TextMessage, data)
}

// SendEvent publishes an event payload in the wire shape the relay
// validates: eventType, timestamp and a data object.
func (c *Client) SendEvent(eventType string, data map[string]any) error {
	msg, err := protocol.NewMessage(relay.TypeEvent, c.cfg.Source, map[string]any{
		"eventType": eventType,
		"timestamp": time.Now().UnixMilli(),
		"data":      data,
	})
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// SendResponse answers a command or query, reusing its correlation id.
func (c *Client) SendResponse(correlationID string, success bool, data any, errText string) error {
	payload := map[string]any{"success": success}
	if data != nil {
		payload["data"] = data
	}
	if errText != "" {
		payload["error"] = errText
	}
	msg, err := protocol.NewMessage(relay.TypeResponse, c.cfg.Source, payload)
	if err != nil {
		return err
	}
	msg.ID = correlationID
	return c.Send(msg)
}

// open dials, authenticates and starts the read loop. Dial failure feeds
// the backoff scheduler.
func (c *Client) open() error {
	conn, err := c.dial()
	if err != nil {
		c.logger.Warn().Str("url", c.cfg.URL).Err(err).Msg("connect failed")
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if !c.reconnect {
		// Disconnected while dialing.
		c.mu.Unlock()
		_ = conn.Close()
		return relay.ErrConnectionClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info().Str("url", c.cfg.URL).Msg("connected to relay")

	if err := c.Send(protocol.NewAuthMessage(c.cfg.Token, c.cfg.Source)); err != nil {
		c.logger.Error().Err(err).Msg("credential send failed")
	}

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *gorilla.Conn) {
	defer func() {
		_ = conn.Close()
		c.mu.Lock()
		stillCurrent := c.conn == conn
		if stillCurrent {
			c.conn = nil
		}
		c.mu.Unlock()
		if stillCurrent {
			c.scheduleReconnect()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn().Err(err).Msg("disconnected from relay")
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("discarding malformed message")
			continue
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(msg)
		}
	}
}

// scheduleReconnect arms the backoff timer, or gives up permanently once
// the attempt budget is spent.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reconnect || c.state == StateGivenUp {
		return
	}
	if c.attempts >= c.cfg.MaxAttempts {
		c.state = StateGivenUp
		c.logger.Error().
			Int("attempts", c.attempts).
			Msg("max reconnection attempts reached, giving up")
		if c.cfg.OnGiveUp != nil {
			go c.cfg.OnGiveUp()
		}
		return
	}

	delay := backoffDelay(c.cfg.InitialDelay, c.cfg.MaxDelay, c.attempts)
	c.attempts++
	c.state = StateRetryScheduled
	c.logger.Info().
		Int("attempt", c.attempts).
		Int("max_attempts", c.cfg.MaxAttempts).
		Dur("delay", delay).
		Msg("reconnect scheduled")

	c.retryTimer = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if !c.reconnect || c.state != StateRetryScheduled {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		_ = c.open()
	})
}

// backoffDelay computes min(initial * 2^attempts, max).
func backoffDelay(initial, max time.Duration, attempts int) time.Duration {
	if attempts > 30 {
		return max
	}
	d := initial << uint(attempts)
	if d > max || d <= 0 {
		return max
	}
	return d
}
