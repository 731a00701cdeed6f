// Package router implements the relay core: given an inbound message and
// its source role, it computes the destination set (every connection of the
// opposite role), serializes once, fans out, records forwarding latency and
// queues on total delivery failure.
package router

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/metrics"
	"github.com/gamebridge/relay/internal/protocol"
	"github.com/gamebridge/relay/internal/queue"
	"github.com/gamebridge/relay/internal/registry"
)

// Inbound is one parsed message handed to the router by a connection read
// loop. Source is kept so routing faults can be answered with an error
// envelope on the originating connection.
type Inbound struct {
	Msg      *protocol.Message
	SourceID string
	Source   relay.Peer
}

// Config wires the router's collaborators. Clock may be nil for the wall
// clock; Collectors may be nil to run without Prometheus.
type Config struct {
	Registry   *registry.Registry
	Queue      *queue.Queue
	Monitor    *metrics.Monitor
	Collectors *metrics.Collectors
	Clock      clock.Clock
	BufferSize int
}

// Router is the sole consumer of the inbound channel; connection read loops
// produce into it. Registry and queue mutation during routing is therefore
// serialized, preserving the single-writer model.
type Router struct {
	registry   *registry.Registry
	queue      *queue.Queue
	monitor    *metrics.Monitor
	collectors *metrics.Collectors
	clock      clock.Clock
	logger     zerolog.Logger

	inbound chan Inbound
	kick    chan struct{}
}

func New(cfg Config, logger zerolog.Logger) *Router {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Router{
		registry:   cfg.Registry,
		queue:      cfg.Queue,
		monitor:    cfg.Monitor,
		collectors: cfg.Collectors,
		clock:      cfg.Clock,
		logger:     logger.With().Str("component", "router").Logger(),
		inbound:    make(chan Inbound, cfg.BufferSize),
		kick:       make(chan struct{}, 1),
	}
}

// Submit hands an inbound message to the router. It blocks only when the
// router's buffer is full and returns once the message is accepted or the
// context is done.
func (r *Router) Submit(ctx context.Context, in Inbound) error {
	select {
	case r.inbound <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyPeerJoined schedules a queue flush attempt. The signal is
// collapsible: multiple notifications before the router gets to them result
// in a single flush.
func (r *Router) NotifyPeerJoined() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run consumes inbound messages until the context is cancelled. It is the
// only goroutine that routes.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-r.inbound:
			r.handle(in)
		case <-r.kick:
			r.ProcessQueue()
		}
	}
}

// handle wraps Route so that one bad message degrades to a logged error
// response instead of a fault.
func (r *Router) handle(in Inbound) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("msg_id", in.Msg.ID).
				Any("panic", p).
				Msg("routing fault")
			r.replyError(in, relay.CodeServerError, "internal relay error")
		}
	}()

	if err := r.Route(in.Msg, in.SourceID); err != nil {
		r.logger.Error().Str("msg_id", in.Msg.ID).Err(err).Msg("routing failed")
		r.replyError(in, relay.CodeServerError, "internal relay error")
	}
}

func (r *Router) replyError(in Inbound, code, message string) {
	if in.Source == nil {
		return
	}
	errMsg := protocol.NewError(in.Msg.ID, in.Msg.Source.Opposite(), code, message, nil)
	data, err := protocol.Encode(errMsg)
	if err != nil {
		return
	}
	if err := in.Source.Send(data); err != nil {
		r.logger.Debug().Str("conn_id", in.SourceID).Err(err).Msg("error reply not delivered")
	}
}

// Route forwards one message to every connection of the opposite role.
//
// The message is serialized exactly once and reused across destinations, so
// serialization cost does not scale with fan-out. A failed send to one
// destination never prevents sending to the others; the message is queued
// for retry only when no destination exists or every send failed. Latency
// is recorded per successful send, with the elapsed value captured once for
// the whole batch.
func (r *Router) Route(msg *protocol.Message, sourceID string) error {
	received := r.clock.Now()
	msg.ReceivedAt = received

	dests := r.registry.ListByRole(msg.Source.Opposite())
	if len(dests) == 0 {
		r.enqueue(msg, sourceID, received)
		return nil
	}

	forwarded := r.clock.Now()
	msg.ForwardedAt = forwarded

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	elapsedMs := float64(forwarded.Sub(received)) / float64(time.Millisecond)
	succeeded := 0
	for _, dest := range dests {
		if err := dest.Send(data); err != nil {
			r.logger.Warn().
				Str("msg_id", msg.ID).
				Str("dest_id", dest.ID()).
				Err(err).
				Msg("delivery failed")
			continue
		}
		succeeded++
		r.monitor.RecordLatency(msg.Type, elapsedMs)
	}

	if succeeded == 0 {
		r.logger.Warn().
			Str("msg_id", msg.ID).
			Int("destinations", len(dests)).
			Msg("all deliveries failed, queueing for retry")
		r.enqueue(msg, sourceID, forwarded)
	}
	return nil
}

// ProcessQueue atomically swaps out the queued messages and re-routes each
// against the current destination set. Best-effort: entries that fail again
// are re-enqueued whole, entries that reached at least one destination are
// not, even if other destinations missed them.
func (r *Router) ProcessQueue() {
	entries := r.queue.DrainAll()
	r.collectors.SetQueueDepth(r.queue.Len())
	if len(entries) == 0 {
		return
	}

	r.logger.Info().Int("count", len(entries)).Msg("processing queued messages")
	for _, e := range entries {
		if err := r.Route(e.Msg, e.SourceID); err != nil {
			r.logger.Error().Str("msg_id", e.Msg.ID).Err(err).Msg("queued message routing failed")
		}
	}
}

// QueueDepth reports the number of messages currently held for retry.
func (r *Router) QueueDepth() int {
	return r.queue.Len()
}

func (r *Router) enqueue(msg *protocol.Message, sourceID string, at time.Time) {
	if r.queue.Push(queue.Entry{Msg: msg, SourceID: sourceID, EnqueuedAt: at}) {
		r.collectors.IncDropped()
	}
	r.collectors.SetQueueDepth(r.queue.Len())
}
