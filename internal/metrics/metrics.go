// Package metrics provides Prometheus instrumentation for the FriendFinder
// real-time engine. It exposes gauges for connection, queue and session
// counts, counters for message and verification throughput, and histograms
// for match latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "friendfinder_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// QueueSize tracks the number of waiting entries per chat mode.
	QueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "friendfinder_queue_size",
		Help: "Current number of waiting entries per chat mode",
	}, []string{"mode"})

	// MatchesTotal counts created sessions, labeled by kind: "human" or "ai".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "friendfinder_matches_total",
		Help: "Total number of sessions created by the matcher",
	}, []string{"kind"})

	// MatchDuration records the time from search request to match.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "friendfinder_match_duration_seconds",
		Help:    "Time from search request to match",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 180},
	})

	// ActiveSessions tracks the current number of active sessions. The
	// matcher refreshes it from the active-session set each pairing pass, so
	// sessions ended by other services still net out.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "friendfinder_active_sessions",
		Help: "Current number of active chat sessions",
	})

	// MessagesTotal counts processed chat messages, labeled by outcome:
	// "sent", "delivered", "read" or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "friendfinder_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// SignalsTotal counts relayed WebRTC signals, labeled by kind.
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "friendfinder_signals_total",
		Help: "Total number of relayed WebRTC signals",
	}, []string{"kind"})

	// VerificationsTotal counts verification challenge outcomes, labeled
	// "verified" or "failed".
	VerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "friendfinder_verifications_total",
		Help: "Total number of face-verification challenge outcomes",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		QueueSize,
		MatchesTotal,
		MatchDuration,
		ActiveSessions,
		MessagesTotal,
		SignalsTotal,
		VerificationsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
