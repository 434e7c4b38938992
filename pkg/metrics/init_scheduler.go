package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSchedulerMetrics() {
	r.SchedulerJobs = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_scheduler_registered_jobs",
			Help: "Jobs registered with the local trigger engine by type",
		},
		[]string{"job_type"},
	)

	r.SchedulerFiresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_scheduler_fires_total",
			Help: "Trigger firings by result",
		},
		[]string{"job_type", "result"}, // submitted, skipped, failed
	)

	r.SchedulerOpsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_scheduler_operations_total",
			Help: "Scheduler admin operations and how many jobs each processed",
		},
		[]string{"operation"},
	)
}
