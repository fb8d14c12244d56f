// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

var (
	PurchasesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fulfillment",
		Name:      "purchases_total",
		Help:      "Purchase events processed by the fulfillment engine, by result.",
	}, []string{"result"})

	UnitsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fulfillment",
		Name:      "units_issued_total",
		Help:      "Serial numbers minted.",
	})

	TransactionRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "transaction_retries_total",
		Help:      "Document transactions retried after a write conflict.",
	}, []string{"backend"})

	ApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fulfillment",
		Name:      "apply_duration_ms",
		Help:      "Time spent applying one purchase event in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "webhook_events_total",
		Help:      "Payment webhook deliveries, by event type and outcome.",
	}, []string{"type", "outcome"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests, by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		PurchasesApplied,
		UnitsIssued,
		TransactionRetries,
		ApplyDuration,
		WebhookEvents,
		HTTPRequests,
		HTTPDuration,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
