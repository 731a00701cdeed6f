package websocket

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/metrics"
	"github.com/gamebridge/relay/internal/registry"
)

// DefaultHeartbeatInterval is the default period between liveness probes.
const DefaultHeartbeatInterval = 30 * time.Second

// liveness is the connection surface the supervisor probes. *Conn
// implements it.
type liveness interface {
	relay.Peer
	SetAlive(bool)
	Ping() error
}

// HeartbeatSupervisor periodically probes every registered connection. A
// connection whose liveness flag is still cleared at tick time failed to
// answer the previous ping and is terminated; otherwise the flag is cleared
// and a new ping goes out. One missed heartbeat is tolerated, two
// consecutive ones are not.
type HeartbeatSupervisor struct {
	registry   *registry.Registry
	interval   time.Duration
	clock      clock.Clock
	collectors *metrics.Collectors
	logger     zerolog.Logger
}

func NewHeartbeatSupervisor(reg *registry.Registry, interval time.Duration, clk clock.Clock, collectors *metrics.Collectors, logger zerolog.Logger) *HeartbeatSupervisor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &HeartbeatSupervisor{
		registry:   reg,
		interval:   interval,
		clock:      clk,
		collectors: collectors,
		logger:     logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Run ticks until the context is cancelled.
func (h *HeartbeatSupervisor) Run(ctx context.Context) {
	ticker := h.clock.Ticker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick performs one probe pass over all registered connections.
func (h *HeartbeatSupervisor) Tick(ctx context.Context) {
	for _, peer := range h.registry.All() {
		lv, ok := peer.(liveness)
		if !ok {
			continue
		}

		if !lv.Alive() {
			h.logger.Warn().
				Str("conn_id", lv.ID()).
				Str("role", string(lv.Role())).
				Msg("heartbeat missed twice, terminating connection")
			h.registry.Remove(lv.ID())
			if c, isConn := lv.(*Conn); isConn {
				_ = c.CloseWithCode(ctx, gorilla.CloseGoingAway, "heartbeat timeout")
			} else {
				_ = lv.Close(ctx)
			}
			h.updateGauges()
			continue
		}

		lv.SetAlive(false)
		if err := lv.Ping(); err != nil {
			h.logger.Debug().Str("conn_id", lv.ID()).Err(err).Msg("ping failed")
		}
	}
}

func (h *HeartbeatSupervisor) updateGauges() {
	counts := h.registry.CountByRole()
	h.collectors.SetConnections(string(relay.RoleProducer), counts[relay.RoleProducer])
	h.collectors.SetConnections(string(relay.RoleConsumer), counts[relay.RoleConsumer])
}
