// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection, waiting pool and room counts, counters
// for relay throughput and provider failures, and histograms for latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatkool_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineIdentities tracks identities currently bound to a connection.
	OnlineIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatkool_online_identities",
		Help: "Current number of bound identities",
	})

	// MessagesTotal counts relayed messages, labeled by type: "human",
	// "persona", "rejected" or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatkool_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"})

	// MatchDuration records the time an identity spent in the waiting pool
	// before being paired with a human.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatkool_match_duration_seconds",
		Help:    "Time from match request to match found",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 15, 20, 30},
	})

	// WaitingPoolSize tracks the current number of identities waiting.
	WaitingPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatkool_waiting_pool_size",
		Help: "Current number of identities in the waiting pool",
	})

	// ActiveRooms tracks active rooms, labeled by kind: "human" or "persona".
	ActiveRooms = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatkool_active_rooms",
		Help: "Current number of active rooms",
	}, []string{"kind"})

	// HandoffsTotal counts AI handoff timers by outcome: "fired",
	// "cancelled" or "skipped".
	HandoffsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatkool_handoffs_total",
		Help: "AI handoff timers by outcome",
	}, []string{"outcome"})

	// ProviderRequests counts provider calls by provider and result.
	ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatkool_ai_provider_requests_total",
		Help: "Text provider calls by provider and result",
	}, []string{"provider", "result"}) // result = "ok", "error"

	// ProviderLatency records provider call latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatkool_ai_provider_latency_seconds",
		Help:    "Text provider call latency in seconds",
		Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 15},
	}, []string{"provider"})

	// CannedReplies counts replies served from the canned pool after every
	// provider failed.
	CannedReplies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatkool_ai_canned_replies_total",
		Help: "Replies served from the canned fallback pool",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineIdentities,
		MessagesTotal,
		MatchDuration,
		WaitingPoolSize,
		ActiveRooms,
		HandoffsTotal,
		ProviderRequests,
		ProviderLatency,
		CannedReplies,
	)
}

// RoomKind returns the ActiveRooms label for a room.
func RoomKind(synthetic bool) string {
	if synthetic {
		return "persona"
	}
	return "human"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
