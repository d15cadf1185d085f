// Package metrics exposes Prometheus collectors for workflow status synchronization.
//
// All methods are safe to call on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moodlist"

// Metrics holds the collectors registered for one client process.
type Metrics struct {
	registry *prometheus.Registry

	statusEvents   *prometheus.CounterVec
	transportOpens *prometheus.CounterVec
	terminals      *prometheus.CounterVec
	resultsFetches *prometheus.CounterVec
	fallbacks      prometheus.Counter
	reconnects     prometheus.Counter
	pollFailures   prometheus.Counter
	pollDelay      prometheus.Histogram
	subscriptions  prometheus.Gauge
}

// New creates Metrics on a fresh registry that also carries the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := MustNewMetrics(reg)
	m.registry = reg
	return m
}

// MustNewMetrics registers the collectors with reg and panics on conflicts.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		statusEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "events_total",
			Help:      "Status events received, by ordering decision.",
		}, []string{"decision"}),
		transportOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "opens_total",
			Help:      "Transport connections opened, by kind.",
		}, []string{"kind"}),
		terminals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "terminal_total",
			Help:      "Terminal statuses handled, by status.",
		}, []string{"status"}),
		resultsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "results",
			Name:      "fetches_total",
			Help:      "Workflow results fetches, by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "fallbacks_total",
			Help:      "Streams that fell back to polling.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Successful stream reconnections.",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "failures_total",
			Help:      "Failed status polls.",
		}),
		pollDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "delay_seconds",
			Help:      "Delay scheduled before the next poll.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 20, 30},
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "subscriptions_active",
			Help:      "Subscriptions currently running.",
		}),
	}

	reg.MustRegister(
		m.statusEvents, m.transportOpens, m.terminals, m.resultsFetches,
		m.fallbacks, m.reconnects, m.pollFailures, m.pollDelay, m.subscriptions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StatusEvent counts an accepted or rejected status event.
func (m *Metrics) StatusEvent(accepted bool) {
	if m == nil {
		return
	}
	decision := "accepted"
	if !accepted {
		decision = "rejected"
	}
	m.statusEvents.WithLabelValues(decision).Inc()
}

func (m *Metrics) TransportOpened(kind string) {
	if m == nil {
		return
	}
	m.transportOpens.WithLabelValues(kind).Inc()
}

func (m *Metrics) Terminal(status string) {
	if m == nil {
		return
	}
	m.terminals.WithLabelValues(status).Inc()
}

// ResultsFetched counts a results fetch. Outcome is one of ok, error or cached.
func (m *Metrics) ResultsFetched(outcome string) {
	if m == nil {
		return
	}
	m.resultsFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.pollFailures.Inc()
}

func (m *Metrics) PollScheduled(d time.Duration) {
	if m == nil {
		return
	}
	m.pollDelay.Observe(d.Seconds())
}

// SubscriptionStarted increments the active gauge and returns a func that decrements it.
func (m *Metrics) SubscriptionStarted() func() {
	if m == nil {
		return func() {}
	}
	m.subscriptions.Inc()
	return m.subscriptions.Dec
}
