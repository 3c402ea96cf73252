package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the gateway, exposed on /metrics

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Number of live websocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_users_online",
			Help: "Number of identified users with a live connection",
		},
	)

	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_routed_total",
			Help: "Total number of inbound events routed, by event name",
		},
		[]string{"event"},
	)

	BroadcastsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_broadcasts_sent_total",
			Help: "Total number of broadcast envelopes emitted, by type",
		},
		[]string{"type"},
	)

	ChatDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_chat_deliveries_total",
			Help: "Chat delivery attempts, by outcome (delivered/dropped)",
		},
		[]string{"outcome"},
	)

	StoreWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_store_write_errors_total",
			Help: "Failed fire-and-forget persistence writes, by store",
		},
		[]string{"store"},
	)
)
