// Package metrics provides Prometheus instrumentation for the live-call
// service. It exposes gauges for connection, queue, and call counts, counters
// for match outcomes, and histograms for queue wait and call duration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livecall_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// QueueSize tracks the current number of users waiting in the matchmaking queue.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livecall_queue_size",
		Help: "Current number of users in the matchmaking queue",
	})

	// ActiveCalls tracks the current number of ongoing call sessions.
	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livecall_active_calls",
		Help: "Current number of active call sessions",
	})

	// MatchesTotal counts match attempts by outcome: "matched", "queued",
	// "rejected", "credential_error", or "error".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livecall_matches_total",
		Help: "Total number of queue join attempts by outcome",
	}, []string{"outcome"})

	// CallsEndedTotal counts ended calls by reason.
	CallsEndedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livecall_calls_ended_total",
		Help: "Total number of ended calls by reason",
	}, []string{"reason"})

	// QueueWaitSeconds records the time from joining the queue to being matched.
	QueueWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "livecall_queue_wait_seconds",
		Help:    "Time from queue join to match",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
	})

	// CallDurationSeconds records completed call durations.
	CallDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "livecall_call_duration_seconds",
		Help:    "Duration of completed calls",
		Buckets: []float64{10, 30, 60, 120, 180, 240, 300, 600},
	})

	// ReportsTotal counts user reports filed.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livecall_reports_total",
		Help: "Total number of user reports filed",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		QueueSize,
		ActiveCalls,
		MatchesTotal,
		CallsEndedTotal,
		QueueWaitSeconds,
		CallDurationSeconds,
		ReportsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
