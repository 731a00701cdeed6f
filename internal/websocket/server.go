package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/auth"
	"github.com/gamebridge/relay/internal/metrics"
	"github.com/gamebridge/relay/internal/protocol"
	"github.com/gamebridge/relay/internal/queue"
	"github.com/gamebridge/relay/internal/registry"
	"github.com/gamebridge/relay/internal/router"
)

// CheckOriginFn validates the origin of a WebSocket handshake. Return true
// to allow the connection.
type CheckOriginFn = func(r *http.Request) bool

// DefaultQueueCapacity bounds the retry queue when the config leaves it zero.
const DefaultQueueCapacity = 1000

// authTimeout bounds how long a fresh connection may wait before sending
// its first (credential-bearing) message.
const authTimeout = 10 * time.Second

// ServerConfig configures the relay server. Tokens are the per-role
// credential sets consulted by the auth gate; everything else falls back to
// a default when zero.
type ServerConfig struct {
	Addr              string
	Tokens            map[relay.Role][]string
	CommandDenylist   []string
	QueueCapacity     int
	HeartbeatInterval time.Duration
	ReportInterval    time.Duration
	ThresholdMs       float64
	RateLimit         *RateLimitConfig
	CheckOrigin       CheckOriginFn
	MaxMessageBytes   int64
	Clock             clock.Clock
	Registerer        prometheus.Registerer
	Logger            zerolog.Logger
}

// Server accepts connections from both populations and relays messages
// between them.
type Server struct {
	cfg    ServerConfig
	server *http.Server

	clock      clock.Clock
	logger     zerolog.Logger
	registry   *registry.Registry
	gate       *auth.Gate
	monitor    *metrics.Monitor
	router     *router.Router
	collectors *metrics.Collectors
	heartbeat  *HeartbeatSupervisor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewServer wires the relay core out of plain constructor parameters.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1024 * 1024
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}

	logger := cfg.Logger
	var collectors *metrics.Collectors
	if cfg.Registerer != nil {
		collectors = metrics.NewCollectors(cfg.Registerer)
	}

	reg := registry.New(logger)
	gate := auth.New(cfg.Tokens, cfg.CommandDenylist, logger)
	monitor := metrics.NewMonitor(metrics.MonitorConfig{
		ThresholdMs:    cfg.ThresholdMs,
		ReportInterval: cfg.ReportInterval,
		Clock:          cfg.Clock,
		Collectors:     collectors,
	}, logger)
	q := queue.New(cfg.QueueCapacity, logger)
	rt := router.New(router.Config{
		Registry:   reg,
		Queue:      q,
		Monitor:    monitor,
		Collectors: collectors,
		Clock:      cfg.Clock,
	}, logger)
	hb := NewHeartbeatSupervisor(reg, cfg.HeartbeatInterval, cfg.Clock, collectors, logger)

	return &Server{
		cfg:        cfg,
		clock:      cfg.Clock,
		logger:     logger.With().Str("component", "server").Logger(),
		registry:   reg,
		gate:       gate,
		monitor:    monitor,
		router:     rt,
		collectors: collectors,
		heartbeat:  hb,
	}
}

// Start begins listening and starts the router, heartbeat supervisor and
// latency reporting. It returns once the listener is up or with the
// immediate startup error.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return relay.ErrServerAlreadyRunning
	}
	s.running = true

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.router.Run(runCtx)
	go s.heartbeat.Run(runCtx)
	s.monitor.StartReporting()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		cancel()
		s.monitor.StopReporting()
		return err
	case <-ctx.Done():
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("relay listening")
		return nil
	}
}

// Stop gracefully stops the server: timers are cancelled, every peer
// connection is closed and the listener shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.monitor.StopReporting()

	for _, peer := range s.registry.All() {
		_ = peer.Close(ctx)
		s.registry.Remove(peer.ID())
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Snapshot returns connection counts per role, queue depth and latency
// aggregates for operational tooling.
func (s *Server) Snapshot() relay.Snapshot {
	counts := s.registry.CountByRole()
	return relay.Snapshot{
		Producers:  counts[relay.RoleProducer],
		Consumers:  counts[relay.RoleConsumer],
		QueueDepth: s.router.QueueDepth(),
		Latency:    s.monitor.Stats(),
	}
}

func (s *Server) upgrader() gorilla.Upgrader {
	return gorilla.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.cfg.CheckOrigin,
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConn(ws, r.RemoteAddr, s.cfg.RateLimit, s.logger)
	ws.SetReadLimit(s.cfg.MaxMessageBytes)

	go s.handleConn(conn)
}

// handleConn authenticates the connection on its first message and then
// runs the read loop. Anything sent before authentication succeeds is
// denied; auth failure is connection-fatal.
func (s *Server) handleConn(conn *Conn) {
	registered := false
	defer func() {
		if registered {
			s.registry.Remove(conn.id)
			s.updateConnGauges()
		}
		_ = conn.Close(context.Background())
	}()

	role, ok := s.authenticate(conn)
	if !ok {
		return
	}

	s.registry.Add(conn.id, conn, role, conn.Version())
	registered = true
	s.updateConnGauges()

	// Flush anything queued while no destination of this role existed.
	s.router.NotifyPeerJoined()

	s.readLoop(conn, role)
}

// authenticate reads the first message, resolves the role via the auth
// gate and acknowledges with a response envelope. On failure it emits an
// AUTH_FAILED error and closes the connection.
func (s *Server) authenticate(conn *Conn) (relay.Role, bool) {
	_ = conn.conn.SetReadDeadline(time.Now().Add(authTimeout))

	_, data, err := conn.conn.ReadMessage()
	if err != nil {
		s.logger.Debug().Str("conn_id", conn.id).Err(err).Msg("connection closed before auth")
		return "", false
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		s.sendErrorNow(conn, "", relay.CodeAuthFailed, "malformed credential message", nil)
		_ = conn.CloseWithCode(context.Background(), gorilla.ClosePolicyViolation, "authentication failed")
		return "", false
	}

	role, err := s.gate.Authenticate(msg)
	if err != nil {
		s.sendErrorNow(conn, msg.ID, relay.CodeAuthFailed, "invalid credentials", nil)
		_ = conn.CloseWithCode(context.Background(), gorilla.ClosePolicyViolation, "authentication failed")
		return "", false
	}

	version := msg.Version
	if version == "" {
		version = relay.Version
	}
	conn.setIdentity(role, version)

	s.pongHandler(conn)
	s.sendAck(conn, msg.ID, role)
	return role, true
}

// pongHandler arms liveness tracking: each pong marks the connection alive
// and extends the read deadline.
func (s *Server) pongHandler(conn *Conn) {
	wait := s.pongWait()
	_ = conn.conn.SetReadDeadline(time.Now().Add(wait))
	conn.conn.SetPongHandler(func(string) error {
		conn.SetAlive(true)
		return conn.conn.SetReadDeadline(time.Now().Add(wait))
	})
}

func (s *Server) pongWait() time.Duration {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return 2*interval + 10*time.Second
}

func (s *Server) readLoop(conn *Conn, role relay.Role) {
	wait := s.pongWait()
	for {
		select {
		case <-conn.Context().Done():
			return
		default:
		}

		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseNormalClosure, gorilla.CloseAbnormalClosure) {
				s.logger.Warn().Str("conn_id", conn.id).Err(err).Msg("unexpected close")
			}
			return
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetAlive(true)

		if !conn.CheckRateLimit() {
			s.logger.Warn().
				Str("conn_id", conn.id).
				Str("remote_addr", conn.remoteAddr).
				Msg("rate limit exceeded")
			_ = conn.CloseWithCode(context.Background(), gorilla.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		s.handleMessage(conn, role, data)
	}
}

// handleMessage runs the post-auth pipeline for one frame: decode,
// validate, authorize, route. Every failure here is message-local; the
// sender gets an error envelope and the connection stays up.
func (s *Server) handleMessage(conn *Conn, role relay.Role, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.sendError(conn, "", relay.CodeSchemaError, "malformed message", err.Error())
		return
	}

	if result := protocol.Validate(msg); !result.Valid {
		s.logger.Debug().
			Str("conn_id", conn.id).
			Str("msg_id", msg.ID).
			Strs("violations", result.Errors).
			Msg("schema violation")
		s.sendError(conn, msg.ID, relay.CodeSchemaError, "message failed validation", result.Errors)
		return
	}

	// The registry's role assignment is authoritative; a peer cannot
	// impersonate the opposite population by forging the source field.
	msg.Source = role

	if decision := s.gate.Authorize(role, msg); !decision.Authorized {
		s.logger.Warn().
			Str("conn_id", conn.id).
			Str("msg_id", msg.ID).
			Str("reason", decision.Reason).
			Msg("authorization denied")
		s.sendError(conn, msg.ID, relay.CodePermissionDenied, decision.Reason, nil)
		return
	}

	if err := s.router.Submit(conn.Context(), router.Inbound{Msg: msg, SourceID: conn.id, Source: conn}); err != nil {
		s.logger.Debug().Str("conn_id", conn.id).Err(err).Msg("submit aborted")
	}
}

// sendError emits an error envelope correlated to the offending message.
// Delivery failures are logged, never escalated.
func (s *Server) sendError(conn *Conn, correlationID, code, message string, details any) {
	errMsg := protocol.NewError(correlationID, conn.Role().Opposite(), code, message, details)
	data, err := protocol.Encode(errMsg)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode error envelope failed")
		return
	}
	if err := conn.Send(data); err != nil {
		s.logger.Debug().Str("conn_id", conn.id).Err(err).Msg("error envelope not delivered")
	}
}

// sendErrorNow writes an error envelope synchronously so it reaches the
// peer before a connection-fatal close. Only used on the auth path, while
// the write pump is guaranteed idle.
func (s *Server) sendErrorNow(conn *Conn, correlationID, code, message string, details any) {
	errMsg := protocol.NewError(correlationID, conn.Role().Opposite(), code, message, details)
	data, err := protocol.Encode(errMsg)
	if err != nil {
		return
	}
	if err := conn.sendNow(data); err != nil {
		s.logger.Debug().Str("conn_id", conn.id).Err(err).Msg("error envelope not delivered")
	}
}

// sendAck confirms authentication with a response envelope carrying the
// resolved role.
func (s *Server) sendAck(conn *Conn, correlationID string, role relay.Role) {
	payload, _ := json.Marshal(map[string]any{
		"success": true,
		"data":    map[string]string{"role": string(role)},
	})
	ack := &protocol.Message{
		Version:   relay.Version,
		Type:      relay.TypeResponse,
		ID:        correlationID,
		Timestamp: time.Now().UnixMilli(),
		Source:    role.Opposite(),
		Payload:   payload,
	}
	data, err := protocol.Encode(ack)
	if err != nil {
		return
	}
	if err := conn.Send(data); err != nil {
		s.logger.Debug().Str("conn_id", conn.id).Err(err).Msg("auth ack not delivered")
	}
}

func (s *Server) updateConnGauges() {
	counts := s.registry.CountByRole()
	s.collectors.SetConnections(string(relay.RoleProducer), counts[relay.RoleProducer])
	s.collectors.SetConnections(string(relay.RoleConsumer), counts[relay.RoleConsumer])
}
