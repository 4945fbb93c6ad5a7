// Package metrics exposes posvoice counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Utterance outcomes.
const (
	OutcomeAccepted   = "accepted"
	OutcomeDuplicate  = "duplicate"
	OutcomeCancelled  = "cancelled"
	OutcomeEmpty      = "empty"
	OutcomeSeenID     = "seen_id"
	OutcomeDispatched = "dispatched"
	OutcomeDropped    = "dropped"
	OutcomeRejected   = "rejected"
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeFallback   = "fallback"
)

// Metrics holds every posvoice collector. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	Utterances      *prometheus.CounterVec
	Actions         *prometheus.CounterVec
	PlannerRequests *prometheus.CounterVec
	ConnectAttempts *prometheus.CounterVec
	PlannerLatency  prometheus.Histogram
	Listening       prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "posvoice_utterances_total",
			Help: "Finalized utterances by dedup/cancel outcome",
		}, []string{"outcome"}),
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "posvoice_actions_total",
			Help: "Actions seen by the guarded dispatcher by outcome",
		}, []string{"action", "outcome"}),
		PlannerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "posvoice_planner_requests_total",
			Help: "Planner calls by outcome",
		}, []string{"outcome"}),
		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "posvoice_connect_attempts_total",
			Help: "Realtime session connect attempts by outcome",
		}, []string{"outcome"}),
		PlannerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "posvoice_planner_latency_seconds",
			Help:    "Planner round-trip latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 9), // 50ms to ~12.8s
		}),
		Listening: factory.NewGauge(prometheus.GaugeOpts{
			Name: "posvoice_listening",
			Help: "1 while the microphone is enabled",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Utterance(outcome string) {
	if m == nil {
		return
	}
	m.Utterances.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Action(name string, outcome string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Planner(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PlannerRequests.WithLabelValues(outcome).Inc()
	m.PlannerLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) Connect(outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetListening(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Listening.Set(1)
		return
	}
	m.Listening.Set(0)
}
