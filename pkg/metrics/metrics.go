// Package metrics exposes Prometheus collectors for the billing pipeline.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	// Deliveries by event type and outcome: the acknowledged status or the rejection reason
	Deliveries *prometheus.CounterVec

	// End-to-end delivery latency by outcome
	DeliveryDuration *prometheus.HistogramVec

	// Sweeper retry attempts by result (completed, failed, lost, error)
	Retries *prometheus.CounterVec

	// Processing rows moved back to failed after timing out
	Reclaimed prometheus.Counter

	// Compensation steps by step name and result (ok, failed)
	CompensationSteps *prometheus.CounterVec

	// Referral grant attempts by outcome
	ReferralGrants *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billingsync_deliveries_total",
			Help: "Webhook deliveries by event type and outcome",
		}, []string{"event_type", "outcome"}),

		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billingsync_delivery_duration_seconds",
			Help:    "Webhook delivery handling duration by outcome",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billingsync_sweeper_retries_total",
			Help: "Ledger retries driven by the sweeper by result",
		}, []string{"result"}),

		Reclaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "billingsync_sweeper_reclaimed_total",
			Help: "Stuck processing ledger rows reclaimed for retry",
		}),

		CompensationSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billingsync_compensation_steps_total",
			Help: "Compensation steps by step and result",
		}, []string{"step", "result"}),

		ReferralGrants: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billingsync_referral_grants_total",
			Help: "Referral bonus grant attempts by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveDelivery records one handled webhook delivery.
func (m *Metrics) ObserveDelivery(eventType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.Deliveries.WithLabelValues(eventType, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveRetry records one sweeper retry result.
func (m *Metrics) ObserveRetry(result string) {
	if m != nil {
		m.Retries.WithLabelValues(result).Inc()
	}
}

// ObserveReclaimed records reclaimed stale rows.
func (m *Metrics) ObserveReclaimed(n int) {
	if m != nil && n > 0 {
		m.Reclaimed.Add(float64(n))
	}
}

// ObserveCompensationStep records one compensation step result.
func (m *Metrics) ObserveCompensationStep(step string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.CompensationSteps.WithLabelValues(step, result).Inc()
}

// ObserveReferral records a referral grant outcome.
func (m *Metrics) ObserveReferral(outcome string) {
	if m != nil {
		m.ReferralGrants.WithLabelValues(outcome).Inc()
	}
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
