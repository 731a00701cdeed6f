package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the relay's Prometheus instruments. All methods are
// nil-receiver safe so callers can run without metrics wired.
type Collectors struct {
	forwardLatency *prometheus.HistogramVec
	connections    *prometheus.GaugeVec
	queueDepth     prometheus.Gauge
	forwarded      *prometheus.CounterVec
	dropped        prometheus.Counter
}

// NewCollectors builds and registers the relay's instruments against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		forwardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "forward_latency_ms",
			Help:      "Forwarding latency per message type in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"type"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "connections",
			Help:      "Currently registered connections per role.",
		}, []string{"role"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "queue_depth",
			Help:      "Messages currently held for retry.",
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "forwarded_total",
			Help:      "Successful destination sends per message type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "dropped_total",
			Help:      "Messages evicted from the retry queue.",
		}),
	}
	reg.MustRegister(c.forwardLatency, c.connections, c.queueDepth, c.forwarded, c.dropped)
	return c
}

func (c *Collectors) ObserveForward(msgType string, ms float64) {
	if c == nil {
		return
	}
	c.forwardLatency.WithLabelValues(msgType).Observe(ms)
	c.forwarded.WithLabelValues(msgType).Inc()
}

func (c *Collectors) SetConnections(role string, n int) {
	if c == nil {
		return
	}
	c.connections.WithLabelValues(role).Set(float64(n))
}

func (c *Collectors) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

func (c *Collectors) IncDropped() {
	if c == nil {
		return
	}
	c.dropped.Inc()
}
