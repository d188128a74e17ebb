// Package metrics holds the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verification outcome labels.
const (
	OutcomeVerified = "verified"
	OutcomeRejected = "rejected"
	OutcomeReplayed = "replayed"
	OutcomeError    = "error"
)

// Metrics groups the collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	generations   prometheus.Counter
	verifications *prometheus.CounterVec
	activations   prometheus.Counter
	cacheErrors   *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		generations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "charforge",
			Name:      "generations_recorded_total",
			Help:      "Successful generations recorded against usage records.",
		}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "charforge",
			Name:      "payment_verifications_total",
			Help:      "Payment verification calls by outcome.",
		}, []string{"outcome"}),
		activations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "charforge",
			Name:      "subscription_activations_total",
			Help:      "Payment references that activated a subscription period.",
		}),
		cacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "charforge",
			Name:      "cache_errors_total",
			Help:      "Cache operations that failed and were bypassed.",
		}, []string{"op"}),
	}
}

// GenerationRecorded counts a recorded generation.
func (m *Metrics) GenerationRecorded() {
	if m == nil {
		return
	}
	m.generations.Inc()
}

// Verification counts a verification call by outcome.
func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

// Activation counts a newly applied payment reference.
func (m *Metrics) Activation() {
	if m == nil {
		return
	}
	m.activations.Inc()
}

// CacheError counts a bypassed cache failure.
func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}
