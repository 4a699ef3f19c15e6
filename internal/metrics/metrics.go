// Package metrics exposes Prometheus instrumentation for the relay: gauges
// for the live in-memory state (connections, queue, sessions, pending grace
// timers) and counters for relay throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the current number of registered users.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections",
		Help: "Current number of connected users",
	})

	// QueueSize tracks the current number of users waiting in the video
	// matchmaking queue.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_match_queue_size",
		Help: "Current number of users in the matchmaking queue",
	})

	// ActiveSessions tracks active sessions, labeled by kind.
	ActiveSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Current number of active sessions",
	}, []string{"kind"}) // kind = "video", "instant_chat"

	// PendingGraceTimers tracks users in the disconnect grace window.
	PendingGraceTimers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pending_grace_timers",
		Help: "Users disconnected and awaiting grace window expiry",
	})

	// MessagesRelayed counts chat messages, labeled by outcome:
	// "delivered", "dropped" (recipient gone), or "rejected" (invalid).
	MessagesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_chat_messages_total",
		Help: "Chat messages processed by outcome",
	}, []string{"outcome"})

	// SignalsRelayed counts WebRTC signaling frames, labeled by outcome.
	SignalsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_signals_total",
		Help: "Signaling payloads relayed by outcome",
	}, []string{"outcome"})

	// MatchesTotal counts successful pairings, labeled by kind.
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_matches_total",
		Help: "Successful pairings by session kind",
	}, []string{"kind"})

	// SessionsEnded counts session teardowns, labeled by reason.
	SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_sessions_ended_total",
		Help: "Sessions ended by reason",
	}, []string{"reason"})

	// ReportsTotal counts accepted reports, labeled by persistence outcome:
	// "persisted" or "fallback".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reports_total",
		Help: "Accepted abuse reports by persistence outcome",
	}, []string{"outcome"})

	// MatchWaitTime records how long users waited in the queue before pairing.
	MatchWaitTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_match_wait_seconds",
		Help:    "Time spent in the queue before a match",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120},
	})
)

func init() {
	prometheus.MustRegister(
		Connections,
		QueueSize,
		ActiveSessions,
		PendingGraceTimers,
		MessagesRelayed,
		SignalsRelayed,
		MatchesTotal,
		SessionsEnded,
		ReportsTotal,
		MatchWaitTime,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
