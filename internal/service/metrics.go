package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics recorded by the gateway services.
// A nil *Metrics disables recording.
type Metrics struct {
	Decisions            *prometheus.CounterVec
	ValidationDuration   prometheus.Histogram
	AuditWriteFailures   prometheus.Counter
	AuditInconsistencies prometheus.Counter
	QueryClassifications *prometheus.CounterVec
	Confirmations        *prometheus.CounterVec
}

// NewMetrics creates and registers all service metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "infragate",
				Name:      "gateway_decisions_total",
				Help:      "Proposal outcomes by action, status and reason code",
			},
			[]string{"action", "status", "reason"},
		),
		ValidationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "infragate",
				Name:      "validation_duration_seconds",
				Help:      "Time spent in the independent validator",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5},
			},
		),
		AuditWriteFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "infragate",
				Name:      "audit_write_failures_total",
				Help:      "Audit records the store refused",
			},
		),
		AuditInconsistencies: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "infragate",
				Name:      "audit_inconsistencies_total",
				Help:      "Actions that executed without a durable audit record",
			},
		),
		QueryClassifications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "infragate",
				Name:      "query_classifications_total",
				Help:      "Statement classifications by label and rule",
			},
			[]string{"label", "rule"},
		),
		Confirmations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "infragate",
				Name:      "confirmations_total",
				Help:      "Confirmation signals by result",
			},
			[]string{"result"}, // result=confirmed/rejected/declined
		),
	}
}

func (m *Metrics) decision(action, status, reason string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(action, status, reason).Inc()
}

func (m *Metrics) observeValidation(seconds float64) {
	if m == nil {
		return
	}
	m.ValidationDuration.Observe(seconds)
}

func (m *Metrics) auditWriteFailed() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

func (m *Metrics) auditInconsistent() {
	if m == nil {
		return
	}
	m.AuditInconsistencies.Inc()
}

func (m *Metrics) classified(label, rule string) {
	if m == nil {
		return
	}
	m.QueryClassifications.WithLabelValues(label, rule).Inc()
}

func (m *Metrics) confirmation(result string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(result).Inc()
}
