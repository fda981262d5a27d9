// Package metrics holds the Prometheus collectors shared by the gateway and
// the job processor.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reelforge_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	JobsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelforge_jobs_requested_total",
		Help: "Jobs accepted with credits reserved",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_jobs_finished_total",
		Help: "Jobs that reached a terminal status",
	}, []string{"status"})

	JobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelforge_job_retries_total",
		Help: "Job attempts rolled back to pending for a queue retry",
	})

	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_ledger_operations_total",
		Help: "Ledger mutations by entry kind and outcome",
	}, []string{"kind", "outcome"})

	RelayOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_outbox_relay_total",
		Help: "Outbox relay attempts by source and outcome",
	}, []string{"source", "outcome"})

	OutboxExhausted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelforge_outbox_exhausted_records",
		Help: "Outbox records that ran out of relay attempts and wait for an operator",
	})

	CredentialsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelforge_credentials_available",
		Help: "Provider credentials currently eligible for selection",
	})

	WorkerStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reelforge_worker_step_duration_seconds",
		Help:    "Latency of generation workflow steps",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
	}, []string{"step"})
)

// ObserveRequest records one finished HTTP request
func ObserveRequest(method, endpoint string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// Outcome renders an error as a success/error label
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
