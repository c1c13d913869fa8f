package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_ws_connections_active",
			Help: "Currently registered live connections",
		},
	)

	// Message metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_sent_total",
			Help: "Messages persisted and broadcast",
		},
	)

	MessagesEdited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_edited_total",
			Help: "Message edits applied",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_deleted_total",
			Help: "Messages tombstoned",
		},
	)

	// EventsDropped counts outbound events dropped because a connection's
	// delivery buffer was full. Delivery is best effort; the client
	// recovers through history on reconnect.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_events_dropped_total",
			Help: "Outbound events dropped for slow connections",
		},
	)
)
