// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "approvals_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	requestsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_requests_created_total",
			Help: "Total number of approval requests created",
		},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_decisions_total",
			Help: "Total number of approve/reject decisions recorded",
		},
		[]string{"action"},
	)

	reconfigurationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_chain_reconfigurations_total",
			Help: "Total number of chain template level reconfigurations",
		},
	)

	outboxPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_outbox_events_published_total",
			Help: "Total number of completion events published to the broker",
		},
	)

	outboxFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "approvals_outbox_events_failed_total",
			Help: "Total number of completion events that exhausted publish attempts",
		},
	)
)

func init() {
	prometheus.MustRegister(
		apiRequestsTotal,
		apiRequestDuration,
		requestsCreatedTotal,
		decisionsTotal,
		reconfigurationsTotal,
		outboxPublishedTotal,
		outboxFailedTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest records one handled HTTP request.
func RecordAPIRequest(method, path string, status int, seconds float64) {
	apiRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordRequestCreated records a new approval request.
func RecordRequestCreated() {
	requestsCreatedTotal.Inc()
}

// RecordDecision records an approve or reject action.
func RecordDecision(action string) {
	decisionsTotal.WithLabelValues(action).Inc()
}

// RecordReconfiguration records a chain level replacement.
func RecordReconfiguration() {
	reconfigurationsTotal.Inc()
}

// RecordOutboxPublished records a successful broker publish.
func RecordOutboxPublished() {
	outboxPublishedTotal.Inc()
}

// RecordOutboxFailed records an event that exhausted its attempts.
func RecordOutboxFailed() {
	outboxFailedTotal.Inc()
}
