package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClusterMetrics() {
	r.ClusterMembersTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_cluster_members_total",
			Help: "Number of members in the current membership snapshot",
		},
	)

	r.ClusterQuorum = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_cluster_quorum",
			Help: "Persisted quorum as last seen by this node",
		},
	)

	r.ClusterHasQuorum = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_cluster_has_quorum",
			Help: "Whether this node sees enough members for quorum (1=yes, 0=no)",
		},
	)

	r.ClusterFenced = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_cluster_fenced",
			Help: "Whether this node has fenced itself out of cluster coordination (1=yes, 0=no)",
		},
	)

	r.ClusterDeploymentMode = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_cluster_deployment_mode",
			Help: "Deployment mode (1 for current mode, 0 otherwise)",
		},
		[]string{"mode"}, // standalone, cluster
	)

	r.ClusterIsOldest = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_cluster_is_oldest_member",
			Help: "Whether this node is the oldest member (1=yes, 0=no)",
		},
	)

	r.ClusterConfigVersion = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_cluster_config_version",
			Help: "Version of the cluster config record last applied",
		},
	)

	r.QuorumProposalsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_cluster_proposals_total",
			Help: "Quorum and deployment mode proposals by outcome",
		},
		[]string{"kind", "result"}, // kind: quorum, mode, membership
	)
}
