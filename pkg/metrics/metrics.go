package metrics

import (
	"runtime"
	"time"
)

// UpdateClusterMetrics updates the cluster gauges from the latest config and snapshot
func (r *Registry) UpdateClusterMetrics(members, quorum int, hasQuorum, isOldest bool, version int64) {
	r.ClusterMembersTotal.Set(float64(members))
	r.ClusterQuorum.Set(float64(quorum))
	r.ClusterHasQuorum.Set(boolGauge(hasQuorum))
	r.ClusterIsOldest.Set(boolGauge(isOldest))
	r.ClusterConfigVersion.Set(float64(version))
}

// SetDeploymentMode marks the current deployment mode
func (r *Registry) SetDeploymentMode(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ClusterDeploymentMode.WithLabelValues("standalone").Set(0)
	r.ClusterDeploymentMode.WithLabelValues("cluster").Set(0)
	r.ClusterDeploymentMode.WithLabelValues(mode).Set(1)
}

// SetFenced records whether this node is fenced
func (r *Registry) SetFenced(fenced bool) {
	r.ClusterFenced.Set(boolGauge(fenced))
}

// RecordProposal counts a quorum/mode/membership proposal outcome
func (r *Registry) RecordProposal(kind, result string) {
	r.QuorumProposalsTotal.WithLabelValues(kind, result).Inc()
}

// RecordBroadcast counts an outbound resync broadcast
func (r *Registry) RecordBroadcast(participant string) {
	r.ResyncBroadcastsTotal.WithLabelValues(participant).Inc()
}

// RecordRejected counts an inbound resync message dropped before dispatch
func (r *Registry) RecordRejected(reason string) {
	r.ResyncRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordDelivery records one per-peer broadcast delivery
func (r *Registry) RecordDelivery(participant string, delivered bool, duration time.Duration) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	r.ResyncDeliveriesTotal.WithLabelValues(participant, result).Inc()
	r.ResyncDeliveryDuration.Observe(duration.Seconds())
}

// RecordInbound records a resync applied (or failed) by a local participant
func (r *Registry) RecordInbound(participant string, err error) {
	result := "applied"
	if err != nil {
		result = "failed"
	}
	r.ResyncInboundTotal.WithLabelValues(participant, result).Inc()
}

// RecordTaskTransition counts a task moving into status
func (r *Registry) RecordTaskTransition(status string) {
	r.TaskTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordTaskSubmitted counts a new task by origin (manual or scheduler)
func (r *Registry) RecordTaskSubmitted(origin string) {
	r.TasksSubmittedTotal.WithLabelValues(origin).Inc()
}

// RecordRemediation counts a task flagged as remediated
func (r *Registry) RecordRemediation() {
	r.TasksRemediatedTotal.Inc()
}

// SetMetricProviderActive marks a metric provider as active or inactive
func (r *Registry) SetMetricProviderActive(provider string, active bool) {
	r.MetricProvidersActive.WithLabelValues(provider).Set(boolGauge(active))
}

// SetSchedulerJobs sets the number of registered jobs per job type
func (r *Registry) SetSchedulerJobs(jobType string, n int) {
	r.SchedulerJobs.WithLabelValues(jobType).Set(float64(n))
}

// RecordSweep records a stale-task sweep
func (r *Registry) RecordSweep(cleaned int, duration time.Duration) {
	r.TasksStaleCleaned.Add(float64(cleaned))
	r.TaskSweepDuration.Observe(duration.Seconds())
}

// RecordFire records a scheduler trigger firing
func (r *Registry) RecordFire(jobType, result string) {
	r.SchedulerFiresTotal.WithLabelValues(jobType, result).Inc()
}

// RecordSchedulerOp counts jobs processed by a scheduler admin operation
func (r *Registry) RecordSchedulerOp(operation string, processed int) {
	r.SchedulerOpsTotal.WithLabelValues(operation).Add(float64(processed))
}

// NodeStatus is the periodically sampled state of the local node
type NodeStatus struct {
	Started      time.Time
	Leader       bool
	Coordinating bool
}

// SetNodeInfo publishes the identity series for this node
func (r *Registry) SetNodeInfo(node, role, cluster string) {
	r.NodeInfo.Reset()
	r.NodeInfo.WithLabelValues(node, role, cluster).Set(1)
}

// UpdateNodeMetrics refreshes uptime, leadership and runtime gauges
func (r *Registry) UpdateNodeMetrics(s NodeStatus) {
	r.NodeUptimeSeconds.Set(time.Since(s.Started).Seconds())
	r.NodeLeader.Set(boolGauge(s.Leader))
	r.NodeCoordinating.Set(boolGauge(s.Coordinating))
	r.NodeGoroutines.Set(float64(runtime.NumGoroutine()))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
