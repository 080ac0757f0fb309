package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telecare_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telecare_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telecare_ws_connections",
			Help: "Open signaling connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telecare_rooms_active",
			Help: "Rooms with at least one member",
		},
	)

	RoomJoinsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telecare_room_joins_rejected_total",
			Help: "Join attempts refused by the registry",
		},
		[]string{"reason"},
	)

	SignalsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telecare_signals_relayed_total",
			Help: "Signaling frames forwarded to a peer",
		},
		[]string{"type"},
	)

	SignalsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telecare_signals_dropped_total",
			Help: "Signaling frames that reached nobody",
		},
		[]string{"reason"}, // "empty_room", "not_in_room", "malformed", "expired", "backpressure"
	)

	// Chat metrics
	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telecare_chat_messages_total",
			Help: "Chat messages stored",
		},
		[]string{"role"},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telecare_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"op"},
	)
)
