package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initResyncMetrics() {
	r.ResyncBroadcastsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_resync_broadcasts_total",
			Help: "Broadcasts started by this node",
		},
		[]string{"participant"},
	)

	r.ResyncDeliveriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_resync_deliveries_total",
			Help: "Per-peer broadcast deliveries by result",
		},
		[]string{"participant", "result"}, // delivered, failed
	)

	r.ResyncDeliveryDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "controlplane_resync_delivery_duration_seconds",
			Help:    "Time to deliver one resync message to one peer",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	r.ResyncInboundTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_resync_inbound_total",
			Help: "Resync requests applied by local participants",
		},
		[]string{"participant", "result"}, // applied, failed
	)

	r.ResyncRejectedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_resync_rejected_total",
			Help: "Inbound resync messages dropped before dispatch",
		},
		[]string{"reason"}, // decode, token, unknown_participant
	)
}
