package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	yaml := `
node:
  id: node-b
  resync_addr: tcp://10.0.0.2:7400
cluster:
  name: prod
  deployment_mode: CLUSTER
  quorum: 2
membership:
  provider: static
  peers:
    - {id: node-a, addr: "tcp://10.0.0.1:7400"}
    - {id: node-b, addr: "tcp://10.0.0.2:7400"}
    - {id: node-c, addr: "tcp://10.0.0.3:7400"}
resync:
  transport: mangos
  timeout: 3s
  fan_out: 4
tasks:
  stale_threshold: 45m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ID != "node-b" || cfg.Cluster.Quorum != 2 {
		t.Errorf("unexpected config: %+v", cfg.Node)
	}
	if cfg.Resync.Timeout != 3*time.Second {
		t.Errorf("Expected 3s timeout, got %v", cfg.Resync.Timeout)
	}
	if cfg.Tasks.SweepInterval != time.Minute {
		t.Errorf("Expected default sweep interval to survive, got %v", cfg.Tasks.SweepInterval)
	}
	if got := cfg.PeerIDs(); strings.Join(got, ",") != "node-a,node-b,node-c" {
		t.Errorf("unexpected peers %v", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CONTROLPLANE_NODE_ID":           "node-z",
		"CONTROLPLANE_QUORUM":            "3",
		"CONTROLPLANE_RESYNC_TIMEOUT":    "750ms",
		"CONTROLPLANE_SCHEDULER_ENABLED": "false",
		"CONTROLPLANE_MEMBERSHIP_JOIN":   "10.0.0.1:7946, 10.0.0.2:7946",
		"CONTROLPLANE_METRICS_ADDR":      "  ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Node.ID != "node-z" || cfg.Cluster.Quorum != 3 {
		t.Errorf("overrides not applied: %+v %+v", cfg.Node, cfg.Cluster)
	}
	if cfg.Resync.Timeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms, got %v", cfg.Resync.Timeout)
	}
	if cfg.Scheduler.Enabled {
		t.Error("Expected scheduler disabled")
	}
	if len(cfg.Membership.Join) != 2 || cfg.Membership.Join[1] != "10.0.0.2:7946" {
		t.Errorf("unexpected join list %v", cfg.Membership.Join)
	}
	if cfg.Metrics.Addr != ":9400" {
		t.Errorf("Blank override should be ignored, got %q", cfg.Metrics.Addr)
	}
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	env := map[string]string{
		"CONTROLPLANE_QUORUM":         "three",
		"CONTROLPLANE_RESYNC_TIMEOUT": "soon",
	}
	err := Default().ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err == nil {
		t.Fatal("Expected errors for bad overrides")
	}
	for _, name := range []string{"CONTROLPLANE_QUORUM", "CONTROLPLANE_RESYNC_TIMEOUT"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Expected error to mention %s: %v", name, err)
		}
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Node.ID = ""
	cfg.Store.Driver = "postgres"
	cfg.Resync.Transport = "smoke-signals"
	cfg.LogLevel = "chatty"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation errors")
	}
	for _, field := range []string{"node.id", "store.dsn", "resync.transport", "log.level"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Expected error for %s: %v", field, err)
		}
	}
}

func TestValidateStaticPeers(t *testing.T) {
	cfg := Default()
	cfg.Membership.Peers = []StaticPeer{{ID: "node-2", Addr: "tcp://b:7400"}}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "local node") {
		t.Errorf("Expected missing local peer error, got %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Missing env file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CONTROLPLANE_TEST_ONLY_VALUE=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CONTROLPLANE_TEST_ONLY_VALUE") })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("CONTROLPLANE_TEST_ONLY_VALUE"); got != "from-dotenv" {
		t.Errorf("Expected value from .env, got %q", got)
	}
}
