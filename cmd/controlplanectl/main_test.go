package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-controlplane/pkg/config"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/membership"
	"github.com/dd0wney/cluso-controlplane/pkg/node"
	"github.com/dd0wney/cluso-controlplane/pkg/resync"
	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
)

func testNode(t *testing.T) *node.Node {
	t.Helper()
	return testNodeAs(t, membership.Member{ID: "node-a", Addr: "mem://node-a"})
}

// testNodeAs builds a client configured as local with the given peers
func testNodeAs(t *testing.T, local membership.Member, peers ...membership.Member) *node.Node {
	t.Helper()

	cfg := config.Default()
	cfg.Node.ID = local.ID
	cfg.Node.ResyncAddr = local.Addr
	cfg.Cluster.Name = "test"
	cfg.Cluster.ValidationToken = "secret"
	cfg.Resync.Transport = "memory"
	cfg.Resync.Timeout = 100 * time.Millisecond
	cfg.Metrics.Addr = ""
	cfg.Snapshot.Dir = t.TempDir()

	stores := node.MemoryStores()
	n, err := node.New(context.Background(), cfg, node.Options{
		Role:       node.RoleClient,
		Stores:     &stores,
		Transport:  resync.NewMemoryNetwork(),
		Membership: membership.NewStaticProvider(local, peers...),
		Logger:     logging.NewJSONLogger(io.Discard, logging.ErrorLevel),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close(context.Background()) })
	return n
}

// run executes one command line against n and returns its output
func run(t *testing.T, n *node.Node, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{node: n, out: &out}
	root := a.root()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func TestParseAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	at, err := parseAt("90m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Minute), at)

	at, err = parseAt("2026-03-02T08:30:00+01:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC), at)

	_, err = parseAt("tomorrow", now)
	assert.Error(t, err)
}

func TestSpecFlags(t *testing.T) {
	s, err := (&specFlags{cron: "@hourly", kind: "tasks.cleanup"}).spec()
	require.NoError(t, err)
	assert.Equal(t, scheduler.JobCron, s.JobType)
	assert.Nil(t, s.ScheduledTime)

	s, err = (&specFlags{at: "1h", kind: "tasks.cleanup", payload: `{"threshold":"2h"}`}).spec()
	require.NoError(t, err)
	assert.Equal(t, scheduler.JobSimple, s.JobType)
	require.NotNil(t, s.ScheduledTime)
	assert.JSONEq(t, `{"threshold":"2h"}`, string(s.Payload))

	_, err = (&specFlags{cron: "@hourly", payload: "{"}).spec()
	assert.Error(t, err)
}

func TestScheduleCommands(t *testing.T) {
	n := testNode(t)

	out, err := run(t, n, "-o", "json", "schedule", "create",
		"--name", "sweep", "--cron", "*/5 * * * *", "--kind", "tasks.cleanup")
	require.NoError(t, err)

	var created map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.Len(t, created["created"], 1)
	id := created["created"][0]

	_, err = run(t, n, "schedule", "pause", id)
	require.NoError(t, err)
	spec, err := n.Scheduler.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusPaused, spec.Status)

	out, err = run(t, n, "schedule", "list", "--status", "paused")
	require.NoError(t, err)
	assert.Contains(t, out, "sweep")

	out, err = run(t, n, "schedule", "cancel")
	assert.Error(t, err)
	assert.Empty(t, out)

	out, err = run(t, n, "schedule", "cancel", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled "+id)
}

func TestParticipantCommands(t *testing.T) {
	n := testNode(t)

	_, err := run(t, n, "param", "set", "region", "eu-west-1")
	require.NoError(t, err)
	v, ok := n.Params.Get("region")
	require.True(t, ok)
	assert.Equal(t, "eu-west-1", v)

	_, err = run(t, n, "plugin", "enable", "audit")
	require.NoError(t, err)
	out, err := run(t, n, "plugin", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "audit")

	_, err = run(t, n, "log-level", "set", "scheduler", "DEBUG")
	require.NoError(t, err)
	out, err = run(t, n, "-o", "json", "log-level", "list")
	require.NoError(t, err)
	assert.JSONEq(t, `{"scheduler":"DEBUG"}`, out)
}

func TestStatusAndSnapshot(t *testing.T) {
	n := testNode(t)

	out, err := run(t, n, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "test")
	assert.Contains(t, out, "node-a")

	out, err = run(t, n, "-o", "json", "snapshot", "export")
	require.NoError(t, err)
	var exported map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &exported))
	require.Len(t, exported["exported"], 1)

	out, err = run(t, n, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, exported["exported"][0])
}

func TestTaskCleanupWithNothingStale(t *testing.T) {
	n := testNode(t)

	out, err := run(t, n, "task", "cleanup", "--threshold", "1h")
	require.NoError(t, err)
	assert.Equal(t, "nothing cleaned\n", out)
}

func TestModeChangeFromNonOldestClient(t *testing.T) {
	n := testNodeAs(t,
		membership.Member{ID: "node-b", Addr: "mem://node-b"},
		membership.Member{ID: "node-a", Addr: "mem://node-a"},
	)
	require.True(t, n.Fence.Fenced(), "node-b is not the primary in STANDALONE")

	out, err := run(t, n, "mode", "set", "CLUSTER")
	require.NoError(t, err)
	assert.Contains(t, out, "mode=CLUSTER quorum=2")
	assert.False(t, n.Fence.Fenced())

	_, err = run(t, n, "mode", "set", "STANDALONE")
	require.NoError(t, err)
	assert.True(t, n.Fence.Fenced())

	out, err = run(t, n, "mode", "set", "CLUSTER")
	require.NoError(t, err)
	assert.Contains(t, out, "mode=CLUSTER")
}
