package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-controlplane/pkg/cluster"
	"github.com/dd0wney/cluso-controlplane/pkg/participants"
	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

func TestTaskListQuery(t *testing.T) {
	query, args := taskListQuery(task.Filter{
		Statuses:   []task.Status{task.StatusInProgress, task.StatusInitializing},
		ScheduleID: "nightly",
	})

	assert.Contains(t, query, "WHERE status = ANY($1) AND schedule_id = $2")
	assert.Contains(t, query, "ORDER BY created_at, id")
	require.Len(t, args, 2)
	assert.Equal(t, []string{"IN_PROGRESS", "INITIALIZING"}, args[0])
	assert.Equal(t, "nightly", args[1])

	query, args = taskListQuery(task.Filter{})
	assert.NotContains(t, query, "WHERE")
	assert.Empty(t, args)
}

// openTestStore connects to CONTROLPLANE_TEST_DATABASE_URL or skips
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CONTROLPLANE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CONTROLPLANE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, url, PoolOptions{MaxConns: 4, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.pool.Exec(ctx, `TRUNCATE cluster_config, tasks, schedules, participant_state`)
	require.NoError(t, err)
	return s
}

func TestClusterRepositoryVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Cluster()

	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, cluster.ErrConfigNotFound)

	cfg := &cluster.Config{
		ID:              uuid.NewString(),
		ClusterName:     "test",
		ValidationToken: "secret",
		DeploymentMode:  cluster.ModeCluster,
		Quorum:          2,
		Members:         []string{"node-c", "node-a", "node-b"},
	}
	require.NoError(t, repo.Save(ctx, cfg))
	assert.Equal(t, int64(1), cfg.Version)

	cfg.Quorum = 3
	require.NoError(t, repo.Save(ctx, cfg))
	assert.Equal(t, int64(2), cfg.Version)

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Quorum)
	assert.Equal(t, []string{"node-a", "node-b", "node-c"}, loaded.Members)
	assert.Equal(t, cluster.ModeCluster, loaded.DeploymentMode)
}

func TestTaskRepositoryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Tasks()

	m := task.NewManager(task.ManagerOptions{Repository: repo})
	created, err := m.Submit(ctx, task.Submission{Kind: "chaos-experiment", Scheduled: true, ScheduleID: "nightly", Remediable: true})
	require.NoError(t, err)

	_, err = m.RecordProgress(ctx, created.ID, 40, task.StatusInProgress)
	require.NoError(t, err)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, got.Status)
	assert.True(t, got.Scheduled)
	require.Len(t, got.Triggers, 1)
	assert.Equal(t, 40, got.Triggers[0].State().PercentComplete)

	list, err := repo.List(ctx, task.Filter{ScheduleID: "nightly", Statuses: []task.Status{task.StatusInProgress}})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, repo.Create(ctx, got), task.ErrTaskExists)
	require.NoError(t, repo.Delete(ctx, created.ID))
	assert.ErrorIs(t, repo.Delete(ctx, created.ID), task.ErrTaskNotFound)
}

func TestScheduleRepositoryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Schedules()

	at := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	spec := &scheduler.Spec{
		ID:            "once",
		JobType:       scheduler.JobSimple,
		ScheduledTime: &at,
		TaskKind:      "chaos-experiment",
		Status:        scheduler.StatusScheduled,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, spec))
	assert.ErrorIs(t, repo.Create(ctx, spec), scheduler.ErrScheduleExists)

	got, err := repo.Get(ctx, "once")
	require.NoError(t, err)
	require.NotNil(t, got.ScheduledTime)
	assert.True(t, at.Equal(*got.ScheduledTime))
	assert.Nil(t, got.LastFiredAt)

	got.Status = scheduler.StatusPaused
	require.NoError(t, repo.Update(ctx, got))

	active, err := repo.List(ctx, scheduler.ActiveStatuses...)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, scheduler.StatusPaused, active[0].Status)

	require.NoError(t, repo.Delete(ctx, "once"))
	_, err = repo.Get(ctx, "once")
	assert.ErrorIs(t, err, scheduler.ErrScheduleNotFound)
}

func TestStateRepositoryUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.State()

	rec := &participants.Record{Participant: "plugins", Key: "http-probe", Value: []byte(`{"enabled":true}`)}
	require.NoError(t, repo.Put(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	rec.Value = []byte(`{"enabled":false}`)
	require.NoError(t, repo.Put(ctx, rec))
	assert.Equal(t, int64(2), rec.Version)

	got, err := repo.Get(ctx, "plugins", "http-probe")
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled":false}`, string(got.Value))

	require.NoError(t, repo.Delete(ctx, "plugins", "http-probe"))
	_, err = repo.Get(ctx, "plugins", "http-probe")
	assert.ErrorIs(t, err, participants.ErrRecordNotFound)
}
