package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive counts live websocket sessions.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "musesync_connections_active",
		Help: "Currently open websocket sessions.",
	})

	// RoomsActive counts rooms with at least one member.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "musesync_rooms_active",
		Help: "Rooms currently held in the registry.",
	})

	// OpsApplied counts accepted operations by type.
	OpsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musesync_ops_applied_total",
		Help: "Operations accepted and broadcast.",
	}, []string{"op"})

	// OpsRejected counts dropped operations by reason.
	OpsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musesync_ops_rejected_total",
		Help: "Operations rejected by validation.",
	}, []string{"reason"})

	// PresenceForwarded counts relayed presence updates.
	PresenceForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "musesync_presence_forwarded_total",
		Help: "Presence updates forwarded to room members.",
	})
)

// Handler exposes Prometheus metrics at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
