package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the control plane
type Registry struct {
	// Cluster Metrics
	ClusterMembersTotal   prometheus.Gauge
	ClusterQuorum         prometheus.Gauge
	ClusterHasQuorum      prometheus.Gauge
	ClusterFenced         prometheus.Gauge
	ClusterDeploymentMode *prometheus.GaugeVec
	ClusterIsOldest       prometheus.Gauge
	ClusterConfigVersion  prometheus.Gauge
	QuorumProposalsTotal  *prometheus.CounterVec

	// Resync Metrics
	ResyncBroadcastsTotal  *prometheus.CounterVec
	ResyncDeliveriesTotal  *prometheus.CounterVec
	ResyncDeliveryDuration prometheus.Histogram
	ResyncInboundTotal     *prometheus.CounterVec
	ResyncRejectedTotal    *prometheus.CounterVec

	// Task Metrics
	TasksSubmittedTotal   *prometheus.CounterVec
	TaskTransitionsTotal  *prometheus.CounterVec
	TasksStaleCleaned     prometheus.Counter
	TaskSweepDuration     prometheus.Histogram
	TasksRemediatedTotal  prometheus.Counter
	MetricProvidersActive *prometheus.GaugeVec

	// Scheduler Metrics
	SchedulerJobs       *prometheus.GaugeVec
	SchedulerFiresTotal *prometheus.CounterVec
	SchedulerOpsTotal   *prometheus.CounterVec

	// Node Metrics
	NodeInfo          *prometheus.GaugeVec
	NodeUptimeSeconds prometheus.Gauge
	NodeLeader        prometheus.Gauge
	NodeCoordinating  prometheus.Gauge
	NodeGoroutines    prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initClusterMetrics()
	r.initResyncMetrics()
	r.initTaskMetrics()
	r.initSchedulerMetrics()
	r.initNodeMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// OrDefault returns r, or the global registry when r is nil
func OrDefault(r *Registry) *Registry {
	if r == nil {
		return DefaultRegistry()
	}
	return r
}
