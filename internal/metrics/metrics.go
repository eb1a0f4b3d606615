package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapp_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatapp_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapp_messages_sent_total",
			Help: "Total DM messages committed",
		},
		[]string{"with_attachments"}, // "true" or "false"
	)

	AttachmentsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatapp_attachments_ingested_total",
			Help: "Total attachments successfully ingested",
		},
	)

	AttachmentRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatapp_attachment_rollbacks_total",
			Help: "Total sends rolled back during attachment ingestion",
		},
	)

	// Gateway metrics
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatapp_gateway_connections",
			Help: "Currently registered gateway connections",
		},
	)

	GatewayEventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapp_gateway_events_dispatched_total",
			Help: "Total gateway events enqueued for delivery",
		},
		[]string{"op"},
	)

	GatewayDispatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatapp_gateway_dispatch_failures_total",
			Help: "Total gateway events dropped (closed or slow connections)",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatapp_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
