package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed pipeline
var (
	UpstreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_upstream_frames_total",
			Help: "Frames received from the upstream quote provider by frame type",
		},
		[]string{"type"},
	)

	UpstreamMalformedFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quote_upstream_malformed_frames_total",
			Help: "Upstream frames that could not be decoded and were dropped",
		},
	)

	UpstreamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quote_upstream_reconnects_total",
			Help: "Upstream reconnect attempts made by the feed receiver",
		},
	)

	SubscriptionSetSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quote_subscription_set_size",
			Help: "Current size of a component's subscription set",
		},
		[]string{"component"},
	)

	TicksPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quote_ticks_published_total",
			Help: "Priced ticks published on the distribution channel",
		},
	)

	TicksDistributedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_ticks_distributed_total",
			Help: "Priced ticks forwarded to broadcast groups by status",
		},
		[]string{"status"},
	)

	ComponentRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_component_restarts_total",
			Help: "Supervisor initiated restarts by component",
		},
		[]string{"component"},
	)

	ComponentHeartbeatAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quote_component_heartbeat_age_seconds",
			Help: "Age of the last heartbeat observed by the supervisor",
		},
		[]string{"component"},
	)
)

// Client sessions
var (
	ClientSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quote_client_sessions_active",
			Help: "Client websocket sessions currently subscribed",
		},
	)

	ClientSessionsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quote_client_sessions_rejected_total",
			Help: "Client websocket handshakes rejected for missing entitlement",
		},
	)

	ClientFramesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quote_client_frames_dropped_total",
			Help: "Price frames dropped because a client inbox was full",
		},
	)

	GroupMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quote_group_members",
			Help: "Local broadcast group memberships",
		},
	)
)

// Dependencies
var (
	PostgresUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quote_postgres_up",
			Help: "Whether the latest postgres health check succeeded",
		},
	)

	PostgresHealthCheckFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quote_postgres_health_check_failures_total",
			Help: "Failed background postgres health checks",
		},
	)
)
