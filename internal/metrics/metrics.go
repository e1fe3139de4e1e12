// Package metrics exposes the server's Prometheus counters.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "licserver"

// Binding outcomes
const (
	BindCreated   = "created"
	BindRefreshed = "refreshed"
	BindConflict  = "conflict"
	BindNotFound  = "not_found"
	BindCanceled  = "canceled"
	BindSkipped   = "no_fingerprint"
	BindError     = "error"
)

type Metrics struct {
	registry   *prometheus.Registry
	bindings   *prometheus.CounterVec
	webhooks   *prometheus.CounterVec
	signatures *prometheus.CounterVec
	trials     prometheus.Counter
	dropped    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "binding_outcomes_total",
			Help:      "Device binding attempts by outcome.",
		}, []string{"outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Billing webhook calls by classification and outcome.",
		}, []string{"classification", "outcome"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_total",
			Help:      "Signed payloads by plan.",
		}, []string{"plan"}),
		trials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_started_total",
			Help:      "Trial clocks started.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_failures_total",
			Help:      "Discarded failures of logging side effects.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.bindings, m.webhooks, m.signatures, m.trials, m.dropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Binding(outcome string) {
	if m == nil {
		return
	}
	m.bindings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Webhook(classification, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(classification, outcome).Inc()
}

func (m *Metrics) Signed(plan string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(plan).Inc()
}

func (m *Metrics) TrialStarted() {
	if m == nil {
		return
	}
	m.trials.Inc()
}

func (m *Metrics) BestEffortFailed(op string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(op).Inc()
}
