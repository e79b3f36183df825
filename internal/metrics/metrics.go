package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the order fulfillment pipeline.
var (
	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order state transitions attempted, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Processor webhook events received, by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	ProcessorCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "processor_call_duration_seconds",
			Help:    "Duration of outbound calls to the payment processor",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call"},
	)

	PayoutFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payout_failures_total",
			Help: "Payouts reported failed by the processor; each needs operator attention",
		},
	)

	ReconciliationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_errors_total",
			Help: "External resources created without a matching local record",
		},
	)
)

// Register registers all Prometheus metrics.
func Register() {
	prometheus.MustRegister(OrderTransitionsTotal)
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(ProcessorCallDuration)
	prometheus.MustRegister(PayoutFailuresTotal)
	prometheus.MustRegister(ReconciliationErrorsTotal)
}
