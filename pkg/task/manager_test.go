package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/pubsub"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) forTask(id string) []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []EventType
	for _, e := range n.events {
		if e.TaskID == id {
			out = append(out, e.Type)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *fakeClock, *recordingNotifier, *MemoryRepository) {
	t.Helper()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	repo := NewMemoryRepository()
	m := NewManager(ManagerOptions{
		Repository: repo,
		Notifier:   notifier,
		Now:        clock.Now,
	})
	return m, clock, notifier, repo
}

func TestSubmitCreatesFirstTrigger(t *testing.T) {
	m, clock, notifier, _ := newTestManager(t)
	ctx := context.Background()

	task, err := m.Submit(ctx, Submission{Kind: "chaos-experiment", Payload: json.RawMessage(`{"target":"db"}`)})
	require.NoError(t, err)

	assert.Equal(t, StatusInitializing, task.Status)
	require.Len(t, task.Triggers, 1)
	assert.Equal(t, TriggerSimple, task.Current().Kind())
	assert.Equal(t, clock.Now(), task.Current().State().StartTime)
	assert.Nil(t, task.Remediated)
	assert.Equal(t, []EventType{EventCreated}, notifier.forTask(task.ID))

	_, err = m.Submit(ctx, Submission{})
	assert.ErrorIs(t, err, ErrEmptyKind)
	assert.ErrorIs(t, err, controlerr.ErrValidation)
}

func TestSubmitHandsTaskToExecutor(t *testing.T) {
	repo := NewMemoryRepository()
	executed := make(chan string, 1)

	var m *Manager
	m = NewManager(ManagerOptions{
		Repository: repo,
		Executor: ExecutorFunc(func(ctx context.Context, t *Task) {
			_, _ = m.RecordProgress(ctx, t.ID, 100, StatusCompleted)
			executed <- t.ID
		}),
	})

	task, err := m.Submit(context.Background(), Submission{Kind: "k"})
	require.NoError(t, err)

	select {
	case id := <-executed:
		assert.Equal(t, task.ID, id)
	case <-time.After(time.Second):
		t.Fatal("executor was not called")
	}

	got, err := m.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestRecordProgressLifecycle(t *testing.T) {
	m, clock, notifier, _ := newTestManager(t)
	ctx := context.Background()

	task, err := m.Submit(ctx, Submission{Kind: "k"})
	require.NoError(t, err)

	task, err = m.RecordProgress(ctx, task.ID, 40, StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, task.Status)
	assert.Equal(t, 40, task.Current().State().PercentComplete)
	assert.Nil(t, task.Current().State().EndTime)

	clock.Advance(time.Minute)
	task, err = m.RecordProgress(ctx, task.ID, 90, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Current().State().PercentComplete)
	require.NotNil(t, task.Current().State().EndTime)
	assert.Equal(t, clock.Now(), *task.Current().State().EndTime)

	_, err = m.RecordProgress(ctx, task.ID, 50, StatusInProgress)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, controlerr.ErrPreconditionFailed)

	assert.Equal(t, []EventType{EventCreated, EventProgress, EventCompleted}, notifier.forTask(task.ID))
}

func TestRecordProgressValidation(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	task, _ := m.Submit(ctx, Submission{Kind: "k"})

	_, err := m.RecordProgress(ctx, task.ID, 101, StatusInProgress)
	assert.ErrorIs(t, err, ErrInvalidProgress)

	_, err = m.RecordProgress(ctx, task.ID, 10, "PAUSED")
	assert.ErrorIs(t, err, controlerr.ErrValidation)

	_, err = m.RecordProgress(ctx, task.ID, 10, StatusInProgress)
	require.NoError(t, err)
	_, err = m.RecordProgress(ctx, task.ID, 10, StatusInitializing)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.RecordProgress(ctx, "missing", 10, StatusInProgress)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, err, controlerr.ErrNotFound)
}

func TestRecordFailureKeepsProgress(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	task, _ := m.Submit(ctx, Submission{Kind: "k"})
	_, _ = m.RecordProgress(ctx, task.ID, 30, StatusInProgress)

	task, err := m.RecordFailure(ctx, task.ID, "target unreachable")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "target unreachable", task.Current().State().FailureReason)
	assert.Equal(t, 30, task.Current().State().PercentComplete)
}

func TestCleanupStaleThreshold(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()
	now := clock.Now()
	threshold := 30 * time.Minute

	clock.Set(now.Add(-(threshold + time.Minute)))
	stale, err := m.Submit(ctx, Submission{Kind: "k"})
	require.NoError(t, err)
	_, err = m.RecordProgress(ctx, stale.ID, 20, StatusInProgress)
	require.NoError(t, err)

	clock.Set(now.Add(-(threshold - time.Minute)))
	fresh, err := m.Submit(ctx, Submission{Kind: "k"})
	require.NoError(t, err)
	_, err = m.RecordProgress(ctx, fresh.ID, 20, StatusInProgress)
	require.NoError(t, err)

	clock.Set(now)
	cleaned, err := m.CleanupStale(ctx, threshold)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, cleaned)

	got, _ := m.Get(ctx, stale.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, CleanupReason, got.Current().State().FailureReason)
	assert.Equal(t, 100, got.Current().State().PercentComplete)
	require.NotNil(t, got.Current().State().EndTime)
	assert.Equal(t, now, *got.Current().State().EndTime)

	untouched, _ := m.Get(ctx, fresh.ID)
	assert.Equal(t, StatusInProgress, untouched.Status)
	assert.Equal(t, 20, untouched.Current().State().PercentComplete)

	_, err = m.CleanupStale(ctx, threshold)
	assert.ErrorIs(t, err, ErrNoStaleTasks)
}

func TestCleanupStaleIncludesInitializing(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	task, _ := m.Submit(ctx, Submission{Kind: "k"})
	clock.Advance(2 * time.Hour)

	cleaned, err := m.CleanupStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, cleaned)
}

// flakyRepository fails updates for one task id
type flakyRepository struct {
	*MemoryRepository
	failID string
}

func (r *flakyRepository) Update(ctx context.Context, t *Task) error {
	if t.ID == r.failID {
		return errors.New("disk full")
	}
	return r.MemoryRepository.Update(ctx, t)
}

func TestCleanupStaleSkipsFailingRecords(t *testing.T) {
	clock := newFakeClock()
	repo := &flakyRepository{MemoryRepository: NewMemoryRepository()}
	m := NewManager(ManagerOptions{Repository: repo, Now: clock.Now})
	ctx := context.Background()

	bad, _ := m.Submit(ctx, Submission{Kind: "k"})
	clock.Advance(time.Second)
	good, _ := m.Submit(ctx, Submission{Kind: "k"})
	repo.failID = bad.ID

	clock.Advance(time.Hour)
	cleaned, err := m.CleanupStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{good.ID}, cleaned)
}

func TestAggregateTasks(t *testing.T) {
	m, _, notifier, _ := newTestManager(t)
	ctx := context.Background()

	parent, kids, err := m.SubmitAggregate(ctx,
		Submission{Kind: "fleet-experiment"},
		[]Submission{{Kind: "host-experiment"}, {Kind: "host-experiment"}},
	)
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.True(t, parent.IsAggregate())
	assert.ElementsMatch(t, []string{kids[0].ID, kids[1].ID}, parent.Children())

	// The parent is advanced only through its children
	_, err = m.RecordProgress(ctx, parent.ID, 50, StatusInProgress)
	assert.ErrorIs(t, err, ErrAggregateTrigger)

	_, err = m.RecordProgress(ctx, kids[0].ID, 100, StatusCompleted)
	require.NoError(t, err)
	p, _ := m.Get(ctx, parent.ID)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, 50, p.Current().State().PercentComplete)

	_, err = m.RecordFailure(ctx, kids[1].ID, "boom")
	require.NoError(t, err)
	p, _ = m.Get(ctx, parent.ID)
	assert.Equal(t, StatusFailed, p.Status)
	assert.NotNil(t, p.Current().State().EndTime)

	// No per-trigger notifications for the aggregate
	assert.Empty(t, notifier.forTask(parent.ID))
	assert.NotEmpty(t, notifier.forTask(kids[0].ID))

	_, _, err = m.SubmitAggregate(ctx, Submission{Kind: "k"}, nil)
	assert.ErrorIs(t, err, controlerr.ErrValidation)
}

func TestAggregateCompletesWhenAllChildrenComplete(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	parent, kids, err := m.SubmitAggregate(ctx, Submission{Kind: "p"}, []Submission{{Kind: "c"}, {Kind: "c"}})
	require.NoError(t, err)
	for _, kid := range kids {
		_, err := m.RecordProgress(ctx, kid.ID, 100, StatusCompleted)
		require.NoError(t, err)
	}

	p, _ := m.Get(ctx, parent.ID)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 100, p.Current().State().PercentComplete)
}

func TestRemediate(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	task, _ := m.Submit(ctx, Submission{Kind: "k", Remediable: true})
	require.NotNil(t, task.Remediated)
	assert.False(t, *task.Remediated)

	_, err := m.Remediate(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotTerminal)

	_, _ = m.RecordFailure(ctx, task.ID, "boom")
	task, err = m.Remediate(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, *task.Remediated)

	// Idempotent
	task, err = m.Remediate(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, *task.Remediated)
	assert.Equal(t, StatusFailed, task.Status, "remediation never changes status")

	plain, _ := m.Submit(ctx, Submission{Kind: "k"})
	_, _ = m.RecordFailure(ctx, plain.ID, "boom")
	_, err = m.Remediate(ctx, plain.ID)
	assert.ErrorIs(t, err, ErrNotRemediable)
}

func TestRetriggerPushesNewAttempt(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()

	task, _ := m.Submit(ctx, Submission{Kind: "k", Remediable: true})
	_, err := m.Retrigger(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotTerminal)

	_, _ = m.RecordFailure(ctx, task.ID, "boom")
	_, _ = m.Remediate(ctx, task.ID)

	clock.Advance(time.Minute)
	task, err = m.Retrigger(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, task.Triggers, 2)
	assert.Equal(t, StatusInProgress, task.Status)
	assert.Equal(t, clock.Now(), task.Current().State().StartTime)
	assert.Equal(t, StatusFailed, task.Triggers[1].State().Status, "history is kept")
	assert.False(t, *task.Remediated)
}

func TestDeleteBySchedule(t *testing.T) {
	m, _, _, repo := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Submit(ctx, Submission{Kind: "k", Scheduled: true, ScheduleID: "s-1"})
	b, _ := m.Submit(ctx, Submission{Kind: "k", Scheduled: true, ScheduleID: "s-1"})
	other, _ := m.Submit(ctx, Submission{Kind: "k", Scheduled: true, ScheduleID: "s-2"})

	deleted, err := m.DeleteBySchedule(ctx, "s-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, deleted)

	_, err = repo.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = repo.Get(ctx, other.ID)
	assert.NoError(t, err)
}

func TestTaskJSONKeepsTriggerTags(t *testing.T) {
	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	task := &Task{
		ID:     "t-1",
		Kind:   "k",
		Status: StatusFailed,
		Triggers: []Trigger{
			&AggregateTrigger{Attempt: Attempt{Status: StatusFailed, EndTime: &end}, ChildTaskIDs: []string{"c-1"}},
			&SimpleTrigger{Attempt: Attempt{Status: StatusCompleted}},
		},
	}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var decoded Task
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Triggers, 2)
	assert.Equal(t, TriggerAggregate, decoded.Triggers[0].Kind())
	assert.Equal(t, []string{"c-1"}, decoded.Children())
	assert.Equal(t, TriggerSimple, decoded.Triggers[1].Kind())

	_, err = UnmarshalTriggers([]byte(`[{"kind":"MYSTERY"}]`))
	assert.Error(t, err)
}

func TestBusNotifierWatch(t *testing.T) {
	bus := pubsub.New[Event](0)
	defer bus.Shutdown()
	notifier := NewBusNotifier(bus)

	ctx := context.Background()
	all, err := notifier.Watch(ctx, "")
	require.NoError(t, err)

	m := NewManager(ManagerOptions{Repository: NewMemoryRepository(), Notifier: notifier})
	task, err := m.Submit(ctx, Submission{Kind: "k"})
	require.NoError(t, err)

	select {
	case e := <-all.Channel():
		assert.Equal(t, EventCreated, e.Type)
		assert.Equal(t, task.ID, e.TaskID)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestSweeperRespectsGate(t *testing.T) {
	m, clock, _, _ := newTestManager(t)
	ctx := context.Background()
	task, _ := m.Submit(ctx, Submission{Kind: "k"})
	clock.Advance(time.Hour)

	leader := false
	s := NewSweeper(m, time.Minute, time.Minute, func() bool { return leader }, nil)
	assert.Empty(t, s.SweepOnce(ctx))

	leader = true
	assert.Equal(t, []string{task.ID}, s.SweepOnce(ctx))
	assert.Empty(t, s.SweepOnce(ctx))
}
