package metrics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return m.Gauge.GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return m.Counter.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	if r.ClusterQuorum == nil {
		t.Error("ClusterQuorum not initialized")
	}
	if r.ResyncDeliveriesTotal == nil {
		t.Error("ResyncDeliveriesTotal not initialized")
	}
	if r.TaskTransitionsTotal == nil {
		t.Error("TaskTransitionsTotal not initialized")
	}
	if r.SchedulerFiresTotal == nil {
		t.Error("SchedulerFiresTotal not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Error("DefaultRegistry() should return the same instance")
	}
	if OrDefault(nil) != DefaultRegistry() {
		t.Error("OrDefault(nil) should return the default registry")
	}
}

func TestUpdateClusterMetrics(t *testing.T) {
	r := NewRegistry()
	r.UpdateClusterMetrics(4, 3, true, false, 7)

	if v := gaugeValue(t, r.ClusterMembersTotal); v != 4 {
		t.Errorf("members = %v, want 4", v)
	}
	if v := gaugeValue(t, r.ClusterQuorum); v != 3 {
		t.Errorf("quorum = %v, want 3", v)
	}
	if v := gaugeValue(t, r.ClusterHasQuorum); v != 1 {
		t.Errorf("has quorum = %v, want 1", v)
	}
	if v := gaugeValue(t, r.ClusterIsOldest); v != 0 {
		t.Errorf("is oldest = %v, want 0", v)
	}
	if v := gaugeValue(t, r.ClusterConfigVersion); v != 7 {
		t.Errorf("config version = %v, want 7", v)
	}
}

func TestSetDeploymentMode(t *testing.T) {
	r := NewRegistry()
	r.SetDeploymentMode("cluster")
	r.SetDeploymentMode("standalone")

	if v := gaugeValue(t, r.ClusterDeploymentMode.WithLabelValues("standalone")); v != 1 {
		t.Errorf("standalone = %v, want 1", v)
	}
	if v := gaugeValue(t, r.ClusterDeploymentMode.WithLabelValues("cluster")); v != 0 {
		t.Errorf("cluster = %v, want 0", v)
	}
}

func TestRecordDelivery(t *testing.T) {
	r := NewRegistry()
	r.RecordDelivery("plugins", true, 2*time.Millisecond)
	r.RecordDelivery("plugins", false, time.Second)
	r.RecordDelivery("plugins", false, time.Second)

	if v := counterValue(t, r.ResyncDeliveriesTotal.WithLabelValues("plugins", "delivered")); v != 1 {
		t.Errorf("delivered = %v, want 1", v)
	}
	if v := counterValue(t, r.ResyncDeliveriesTotal.WithLabelValues("plugins", "failed")); v != 2 {
		t.Errorf("failed = %v, want 2", v)
	}
}

func TestRecordInbound(t *testing.T) {
	r := NewRegistry()
	r.RecordInbound("sessions", nil)
	r.RecordInbound("sessions", errors.New("store down"))

	if v := counterValue(t, r.ResyncInboundTotal.WithLabelValues("sessions", "applied")); v != 1 {
		t.Errorf("applied = %v, want 1", v)
	}
	if v := counterValue(t, r.ResyncInboundTotal.WithLabelValues("sessions", "failed")); v != 1 {
		t.Errorf("failed = %v, want 1", v)
	}
}

func TestRecordSweep(t *testing.T) {
	r := NewRegistry()
	r.RecordSweep(3, 10*time.Millisecond)
	r.RecordSweep(0, time.Millisecond)

	if v := counterValue(t, r.TasksStaleCleaned); v != 3 {
		t.Errorf("stale cleaned = %v, want 3", v)
	}
}

func TestRecordSchedulerOp(t *testing.T) {
	r := NewRegistry()
	r.RecordSchedulerOp("pause", 2)
	r.RecordSchedulerOp("pause", 1)

	if v := counterValue(t, r.SchedulerOpsTotal.WithLabelValues("pause")); v != 3 {
		t.Errorf("pause ops = %v, want 3", v)
	}
}

func TestUpdateNodeMetrics(t *testing.T) {
	r := NewRegistry()
	r.UpdateNodeMetrics(NodeStatus{Started: time.Now().Add(-time.Minute), Leader: true})

	if v := gaugeValue(t, r.NodeUptimeSeconds); v < 59 {
		t.Errorf("uptime = %v, want >= 59", v)
	}
	if v := gaugeValue(t, r.NodeLeader); v != 1 {
		t.Errorf("leader = %v, want 1", v)
	}
	if v := gaugeValue(t, r.NodeCoordinating); v != 0 {
		t.Errorf("coordinating = %v, want 0 for a fenced leader", v)
	}
	if v := gaugeValue(t, r.NodeGoroutines); v < 1 {
		t.Errorf("goroutines = %v, want >= 1", v)
	}
}

func TestSetNodeInfo(t *testing.T) {
	r := NewRegistry()
	r.SetNodeInfo("node-a", "client", "prod")
	r.SetNodeInfo("node-a", "daemon", "prod")

	if v := gaugeValue(t, r.NodeInfo.WithLabelValues("node-a", "daemon", "prod")); v != 1 {
		t.Errorf("node info = %v, want 1", v)
	}

	families, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "controlplane_node_info" {
			continue
		}
		if n := len(mf.GetMetric()); n != 1 {
			t.Errorf("node info series = %d, want 1 after a role change", n)
		}
		return
	}
	t.Error("controlplane_node_info not gathered")
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordTaskTransition("FAILED")
			r.SetDeploymentMode("cluster")
		}()
	}
	wg.Wait()

	if v := counterValue(t, r.TaskTransitionsTotal.WithLabelValues("FAILED")); v != 20 {
		t.Errorf("transitions = %v, want 20", v)
	}
}

func TestMetricNaming(t *testing.T) {
	r := NewRegistry()
	r.RecordProposal("quorum", "accepted")
	r.RecordFire("CRON", "submitted")

	families, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "controlplane_") {
			t.Errorf("metric %s lacks controlplane_ prefix", mf.GetName())
		}
	}
}
