package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "helpdesk",
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Open websocket connections.",
	})

	metricIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "helpdesk",
		Subsystem: "ws",
		Name:      "identities",
		Help:      "Distinct users with at least one open connection.",
	})

	metricDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "helpdesk",
		Subsystem: "ws",
		Name:      "messages_delivered_total",
		Help:      "Envelopes enqueued to connection send queues.",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "helpdesk",
		Subsystem: "ws",
		Name:      "messages_dropped_total",
		Help:      "Envelopes dropped due to full queues or closing connections.",
	})

	metricHandshakeRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helpdesk",
		Subsystem: "ws",
		Name:      "handshake_rejects_total",
		Help:      "Rejected websocket handshakes by reason.",
	}, []string{"reason"})
)
