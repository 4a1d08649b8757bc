package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// CheckoutMetrics records fulfillment, notification and gateway outcomes.
type CheckoutMetrics struct {
	fulfillment *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	emails      *prometheus.CounterVec
	gateway     *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	fulfillment := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_total",
		Help: "Reconciliation results by trigger and outcome.",
	}, []string{"trigger", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_duration_seconds",
		Help:    "Duration of reconciliation calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})
	emails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_emails_total",
		Help: "Order emails attempted by recipient and outcome.",
	}, []string{"recipient", "outcome"})
	gateway := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Payment gateway calls by provider, operation and outcome.",
	}, []string{"provider", "op", "outcome"})
	reg.MustRegister(fulfillment, duration, emails, gateway)
	return &CheckoutMetrics{
		fulfillment: fulfillment,
		duration:    duration,
		emails:      emails,
		gateway:     gateway,
	}
}

// ObserveFulfillment records one reconciliation outcome (fulfilled, already_fulfilled, in_progress, pending, failed, error).
func (m *CheckoutMetrics) ObserveFulfillment(trigger, outcome string, took time.Duration) {
	if m == nil || m.fulfillment == nil {
		return
	}
	m.fulfillment.WithLabelValues(normalizeLabel(trigger), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(trigger)).Observe(took.Seconds())
}

// IncEmail records a single email attempt.
func (m *CheckoutMetrics) IncEmail(recipient string, ok bool) {
	if m == nil || m.emails == nil {
		return
	}
	m.emails.WithLabelValues(normalizeLabel(recipient), outcome(ok)).Inc()
}

// IncGateway records a single call against a payment processor.
func (m *CheckoutMetrics) IncGateway(provider, op string, ok bool) {
	if m == nil || m.gateway == nil {
		return
	}
	m.gateway.WithLabelValues(normalizeLabel(provider), normalizeLabel(op), outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
