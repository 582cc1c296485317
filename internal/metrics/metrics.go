// Package metrics registers the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hub
	HubTopics = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_topics",
			Help: "Current number of topics with at least one subscriber",
		},
	)

	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_subscribers",
			Help: "Current number of subscriptions across all topics",
		},
	)

	HubPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_published_total",
			Help: "Total number of messages published, by topic kind",
		},
		[]string{"kind"}, // transport, traffic, other
	)

	HubDeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_deliveries_total",
			Help: "Total number of messages written to a subscriber handle",
		},
	)

	HubDeliveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_delivery_errors_total",
			Help: "Total number of per-handle delivery failures",
		},
		[]string{"reason"}, // outbox_full, send_failed, timeout
	)

	// Websocket front door
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of open websocket connections",
		},
	)

	WSFramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_frames_received_total",
			Help: "Total number of websocket frames read from clients",
		},
	)

	WSFramesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_frames_rejected_total",
			Help: "Total number of inbound frames dropped before publish",
		},
		[]string{"reason"}, // malformed, rate_limited
	)

	// NATS bridge
	BridgeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_bridge_messages_total",
			Help: "Total number of NATS messages seen by the bridge",
		},
		[]string{"result"}, // published, ignored, invalid
	)
)
