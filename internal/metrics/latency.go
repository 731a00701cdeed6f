// Package metrics tracks per-message-type forwarding latency against the
// relay's soft latency budget and exports Prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/gamebridge/relay"
)

const (
	// DefaultThresholdMs is the soft forwarding-latency budget. A latency
	// exactly equal to the threshold does not count as a breach.
	DefaultThresholdMs = 100

	// DefaultReportInterval is how often the aggregate report is logged
	// and the window reset.
	DefaultReportInterval = 60 * time.Second
)

type scope struct {
	count   int64
	totalMs float64
	minMs   float64
	maxMs   float64
	over    int64
}

func (s *scope) record(ms float64, thresholdMs float64) {
	if s.count == 0 || ms < s.minMs {
		s.minMs = ms
	}
	if ms > s.maxMs {
		s.maxMs = ms
	}
	s.count++
	s.totalMs += ms
	if ms > thresholdMs {
		s.over++
	}
}

func (s *scope) snapshot() relay.LatencyScope {
	snap := relay.LatencyScope{
		Count:         s.count,
		TotalMs:       s.totalMs,
		MinMs:         s.minMs,
		MaxMs:         s.maxMs,
		OverThreshold: s.over,
	}
	if s.count > 0 {
		snap.AvgMs = s.totalMs / float64(s.count)
	}
	return snap
}

// Monitor aggregates forwarding latency per scope (overall plus one scope
// per message type). Aggregates are windowed: each periodic report logs the
// window and resets every counter to zero.
type Monitor struct {
	mu      sync.Mutex
	overall scope
	perType map[string]*scope

	thresholdMs float64
	interval    time.Duration
	clock       clock.Clock
	logger      zerolog.Logger
	collectors  *Collectors

	ticker *clock.Ticker
	done   chan struct{}
}

// MonitorConfig configures a Monitor. Zero values fall back to defaults;
// a nil Clock uses the wall clock.
type MonitorConfig struct {
	ThresholdMs    float64
	ReportInterval time.Duration
	Clock          clock.Clock
	Collectors     *Collectors
}

func NewMonitor(cfg MonitorConfig, logger zerolog.Logger) *Monitor {
	if cfg.ThresholdMs <= 0 {
		cfg.ThresholdMs = DefaultThresholdMs
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Monitor{
		perType:     make(map[string]*scope),
		thresholdMs: cfg.ThresholdMs,
		interval:    cfg.ReportInterval,
		clock:       cfg.Clock,
		logger:      logger.With().Str("component", "latency").Logger(),
		collectors:  cfg.Collectors,
	}
}

// RecordLatency folds one forwarding latency sample into the overall and
// per-type aggregates. A sample above the threshold is logged immediately
// at warning level rather than waiting for the periodic report.
func (m *Monitor) RecordLatency(msgType string, ms float64) {
	m.mu.Lock()
	m.overall.record(ms, m.thresholdMs)
	s, ok := m.perType[msgType]
	if !ok {
		s = &scope{}
		m.perType[msgType] = s
	}
	s.record(ms, m.thresholdMs)
	m.mu.Unlock()

	m.collectors.ObserveForward(msgType, ms)

	if ms > m.thresholdMs {
		m.logger.Warn().
			Str("msg_type", msgType).
			Float64("latency_ms", ms).
			Float64("threshold_ms", m.thresholdMs).
			Msg("forwarding latency over budget")
	}
}

// Stats returns a deep copy of the current window. The internal state is
// never exposed.
func (m *Monitor) Stats() relay.LatencySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := relay.LatencySnapshot{
		Overall: m.overall.snapshot(),
		PerType: make(map[string]relay.LatencyScope, len(m.perType)),
	}
	for t, s := range m.perType {
		snap.PerType[t] = s.snapshot()
	}
	return snap
}

// StartReporting arms the periodic report timer. Each tick logs the window
// aggregates and resets them; report windows are independent, not
// cumulative. Calling StartReporting twice is a no-op.
func (m *Monitor) StartReporting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticker != nil {
		return
	}
	m.ticker = m.clock.Ticker(m.interval)
	m.done = make(chan struct{})
	go m.reportLoop(m.ticker, m.done)
}

// StopReporting disarms the report timer. Safe to call when reporting was
// never started.
func (m *Monitor) StopReporting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.done)
	m.ticker = nil
	m.done = nil
}

func (m *Monitor) reportLoop(ticker *clock.Ticker, done chan struct{}) {
	for {
		select {
		case <-ticker.C:
			m.report()
		case <-done:
			return
		}
	}
}

// report logs the window and resets all counters to zero.
func (m *Monitor) report() {
	m.mu.Lock()
	overall := m.overall.snapshot()
	perType := make(map[string]relay.LatencyScope, len(m.perType))
	for t, s := range m.perType {
		perType[t] = s.snapshot()
	}
	m.overall = scope{}
	m.perType = make(map[string]*scope)
	m.mu.Unlock()

	ev := m.logger.Info().
		Int64("count", overall.Count).
		Float64("avg_ms", overall.AvgMs).
		Float64("min_ms", overall.MinMs).
		Float64("max_ms", overall.MaxMs).
		Int64("over_threshold", overall.OverThreshold)
	for t, s := range perType {
		ev = ev.Dict(t, zerolog.Dict().
			Int64("count", s.Count).
			Float64("avg_ms", s.AvgMs).
			Int64("over_threshold", s.OverThreshold))
	}
	ev.Msg("latency report")
}
