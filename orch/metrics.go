package orch

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates statistics about a run for final reporting and,
// when a collector is attached, mirrors them into Prometheus for live
// scraping of long real-time-paced runs.
type Metrics struct {
	TicksCompleted     uint64
	EnvelopesPublished uint64
	BarrierWaitTotal   time.Duration
	MaxBarrierWait     time.Duration
	SyncTimeouts       int
	SyncArrivals       map[string]uint64 // sync topic -> on-time arrivals observed by the barrier

	// mu guards EnvelopesPublished, the only field drivers touch
	// concurrently; everything else is written from the tick loop.
	mu        sync.Mutex
	collector *Collector
}

// NewMetrics builds an empty aggregate. collector may be nil for runs
// that do not expose a scrape endpoint.
func NewMetrics(collector *Collector) *Metrics {
	return &Metrics{SyncArrivals: make(map[string]uint64), collector: collector}
}

// TickCompleted records one fully barriered tick.
func (m *Metrics) TickCompleted() {
	m.TicksCompleted++
	if m.collector != nil {
		m.collector.Ticks.Inc()
	}
}

// Published records envelopes pushed to the bus during one step cycle.
// Safe for concurrent use; drivers publish from their own goroutines.
func (m *Metrics) Published(n int) {
	m.mu.Lock()
	m.EnvelopesPublished += uint64(n)
	m.mu.Unlock()
	if m.collector != nil {
		m.collector.Envelopes.Add(float64(n))
	}
}

// BarrierWait records how long the barrier held one tick.
func (m *Metrics) BarrierWait(d time.Duration) {
	m.BarrierWaitTotal += d
	if d > m.MaxBarrierWait {
		m.MaxBarrierWait = d
	}
	if m.collector != nil {
		m.collector.BarrierWait.Observe(d.Seconds())
	}
}

// SyncArrival records an on-time sync topic message for a due tick.
func (m *Metrics) SyncArrival(topic string) {
	m.SyncArrivals[topic]++
}

// SyncTimeout records a barrier timeout on a topic.
func (m *Metrics) SyncTimeout(topic string) {
	m.SyncTimeouts++
	if m.collector != nil {
		m.collector.Timeouts.WithLabelValues(topic).Inc()
	}
}

// Print displays aggregated metrics at the end of the run.
func (m *Metrics) Print(wall time.Duration) {
	fmt.Println("=== Run Metrics ===")
	fmt.Printf("Ticks completed      : %d\n", m.TicksCompleted)
	fmt.Printf("Envelopes published  : %d\n", m.EnvelopesPublished)
	fmt.Printf("Sync timeouts        : %d\n", m.SyncTimeouts)
	if m.TicksCompleted > 0 {
		avg := m.BarrierWaitTotal / time.Duration(m.TicksCompleted)
		fmt.Printf("Avg barrier wait     : %v\n", avg)
		fmt.Printf("Max barrier wait     : %v\n", m.MaxBarrierWait)
	}
	fmt.Printf("Wall time            : %v\n", wall)
}

// Collector bundles the orchestrator's Prometheus metrics. Registered
// against a caller-provided registry rather than the global default so
// tests and embedded uses stay isolated.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks       prometheus.Counter
	Envelopes   prometheus.Counter
	BarrierWait prometheus.Histogram
	Timeouts    *prometheus.CounterVec
}

// NewCollector registers the orchestrator metrics on reg, defaulting to
// the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_ticks_total",
			Help: "Total number of completed simulation ticks.",
		}),
		Envelopes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_envelopes_published_total",
			Help: "Total number of messages published by component drivers.",
		}),
		BarrierWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_barrier_wait_seconds",
			Help:    "Time the barrier held each tick waiting for sync topics.",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_sync_timeouts_total",
			Help: "Barrier timeouts, labeled by the sync topic that missed its tick.",
		}, []string{"topic"}),
	}

	for _, col := range []prometheus.Collector{c.Ticks, c.Envelopes, c.BarrierWait, c.Timeouts} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler for the collector's
// registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
