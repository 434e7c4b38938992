package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTaskMetrics() {
	r.TasksSubmittedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_tasks_submitted_total",
			Help: "Tasks submitted",
		},
		[]string{"origin"}, // manual, scheduled
	)

	r.TaskTransitionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_task_transitions_total",
			Help: "Task status transitions by target status",
		},
		[]string{"status"},
	)

	r.TasksStaleCleaned = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_tasks_stale_cleaned_total",
			Help: "Tasks force-failed by the stale cleanup sweep",
		},
	)

	r.TaskSweepDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "controlplane_task_sweep_duration_seconds",
			Help:    "Duration of stale task sweeps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	r.TasksRemediatedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_tasks_remediated_total",
			Help: "Tasks marked remediated",
		},
	)

	r.MetricProvidersActive = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_metric_provider_active",
			Help: "Whether a metric provider is activated on this node (1=yes, 0=no)",
		},
		[]string{"provider"},
	)
}
