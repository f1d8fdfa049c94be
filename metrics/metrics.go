// Package metrics exposes Prometheus collectors for the clinic engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeNoop     = "noop"
)

// Metrics holds every collector the engine records into.
type Metrics struct {
	transitions      *prometheus.CounterVec
	accessDecisions  *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	reconcileFailure prometheus.Counter
	httpDuration     *prometheus.HistogramVec
}

// New builds and registers the collectors. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Appointment ledger operations by outcome",
		}, []string{"operation", "outcome"}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "access",
			Name:      "decisions_total",
			Help:      "Role-gated authorization decisions",
		}, []string{"action", "decision"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "identity",
			Name:      "resolutions_total",
			Help:      "Identity resolutions by outcome (resolved, degraded, unauthenticated, timeout, error)",
		}, []string{"outcome"}),
		reconcileFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "staff",
			Name:      "reconcile_failures_total",
			Help:      "Optimistic staff updates whose background write failed",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.accessDecisions, m.resolutions, m.reconcileFailure, m.httpDuration)
	return m
}

func (m *Metrics) ObserveTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveAccess(action string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.accessDecisions.WithLabelValues(action, decision).Inc()
}

func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReconcileFailure() {
	if m == nil {
		return
	}
	m.reconcileFailure.Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}
