package session

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the session lifecycle.
type Metrics struct {
	registry *prometheus.Registry

	TransitionsTotal *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	StartDuration    prometheus.Histogram
}

// NewMetrics creates session metrics on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicelink"
	}

	registry := prometheus.NewRegistry()

	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Accepted status transitions by target status.",
		},
		[]string{"status"},
	)

	failuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "failures_total",
			Help:      "Failed session operations by kind.",
		},
		[]string{"op", "kind"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "1 while a session is connected.",
		},
	)

	startDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "start_duration_seconds",
			Help:      "Time from StartSession to the connected status.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)

	registry.MustRegister(
		transitionsTotal,
		failuresTotal,
		sessionsActive,
		startDuration,
	)

	return &Metrics{
		registry:         registry,
		TransitionsTotal: transitionsTotal,
		FailuresTotal:    failuresTotal,
		SessionsActive:   sessionsActive,
		StartDuration:    startDuration,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTransition records an accepted status change.
func (m *Metrics) RecordTransition(c Change) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(c.To.String()).Inc()
	switch {
	case c.To == StatusConnected:
		m.SessionsActive.Set(1)
	case c.From == StatusConnected:
		m.SessionsActive.Set(0)
	}
}

// RecordFailure records a failed operation.
func (m *Metrics) RecordFailure(op string, err error) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(op, KindOf(err)).Inc()
}

// RecordStart records how long a session took to connect.
func (m *Metrics) RecordStart(d time.Duration) {
	if m == nil {
		return
	}
	m.StartDuration.Observe(d.Seconds())
}
