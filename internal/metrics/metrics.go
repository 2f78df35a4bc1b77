// Package metrics provides Prometheus metrics for the listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swap_listener"

// Metrics holds all Prometheus metrics for the listener. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Listener metrics
	SwapEvents     *prometheus.CounterVec
	BuysPublished  prometheus.Counter
	HandlerErrors  *prometheus.CounterVec
	ActivePairs    prometheus.Gauge
	ProcessLatency prometheus.Histogram

	// Chain metrics
	RPCFailovers *prometheus.CounterVec
	ChainFaults  prometheus.Counter

	// Store metrics
	StoreWrites *prometheus.CounterVec
	StalePairs  prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SwapEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "swap_events_total",
			Help:      "Total number of swap events received by side",
		}, []string{"side"}),
		BuysPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "buys_published_total",
			Help:      "Total number of buy notifications published",
		}),
		HandlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "handler_errors_total",
			Help:      "Total number of swap handler errors by stage",
		}, []string{"stage"}),
		ActivePairs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "active_pairs",
			Help:      "Number of pairs with a live subscription",
		}),
		ProcessLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "process_latency_seconds",
			Help:      "Time from swap event to published buy",
			Buckets:   prometheus.DefBuckets,
		}),

		RPCFailovers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "failovers_total",
			Help:      "Total number of failed endpoint attempts by endpoint and method",
		}, []string{"endpoint", "op"}),
		ChainFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "faults_total",
			Help:      "Total number of socket transport closures",
		}),

		StoreWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Total number of pair store writes by operation",
		}, []string{"op"}),
		StalePairs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "stale_pairs",
			Help:      "Number of stale pairs found by the last sweep",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSwap counts a received swap event.
func (m *Metrics) RecordSwap(buy bool) {
	if m == nil {
		return
	}
	side := "sell"
	if buy {
		side = "buy"
	}
	m.SwapEvents.WithLabelValues(side).Inc()
}

// RecordBuy counts a published buy and its end-to-end latency.
func (m *Metrics) RecordBuy(seconds float64) {
	if m == nil {
		return
	}
	m.BuysPublished.Inc()
	m.ProcessLatency.Observe(seconds)
}

// RecordError counts a handler error.
func (m *Metrics) RecordError(stage string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(stage).Inc()
}

// SetActivePairs updates the active pair gauge.
func (m *Metrics) SetActivePairs(n int) {
	if m == nil {
		return
	}
	m.ActivePairs.Set(float64(n))
}

// RecordFailover matches chain.MultiConfig.OnFailover.
func (m *Metrics) RecordFailover(endpoint, op string) {
	if m == nil {
		return
	}
	m.RPCFailovers.WithLabelValues(endpoint, op).Inc()
}

// RecordFault counts a socket transport closure.
func (m *Metrics) RecordFault() {
	if m == nil {
		return
	}
	m.ChainFaults.Inc()
}

// RecordStoreWrite counts a pair store write.
func (m *Metrics) RecordStoreWrite(op string) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(op).Inc()
}

// SetStalePairs updates the stale pair gauge.
func (m *Metrics) SetStalePairs(n int) {
	if m == nil {
		return
	}
	m.StalePairs.Set(float64(n))
}
