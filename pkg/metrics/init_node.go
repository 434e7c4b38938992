package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initNodeMetrics() {
	r.NodeInfo = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_node_info",
			Help: "Constant 1, labelled with this node's identity",
		},
		[]string{"node", "role", "cluster"},
	)

	r.NodeUptimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_node_uptime_seconds",
			Help: "Time since the node started in seconds",
		},
	)

	r.NodeLeader = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_node_leader",
			Help: "Whether this node holds the sweeper and scheduler lease (1 = leader)",
		},
	)

	r.NodeCoordinating = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_node_coordinating",
			Help: "Whether this node currently sweeps stale tasks and fires schedules (leader and not fenced)",
		},
	)

	r.NodeGoroutines = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_node_goroutines",
			Help: "Number of goroutines",
		},
	)
}
