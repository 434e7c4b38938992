package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// Submission describes new work
type Submission struct {
	Kind       string
	Payload    json.RawMessage
	Scheduled  bool
	ScheduleID string
	// Remediable kinds carry a remediated flag once finished
	Remediable bool
}

// ManagerOptions wires a Manager
type ManagerOptions struct {
	Repository Repository
	Executor   Executor // optional
	Notifier   Notifier // optional
	Metrics    *metrics.Registry
	Logger     logging.Logger
	Now        func() time.Time
}

// Manager owns task state transitions
type Manager struct {
	repo     Repository
	executor Executor
	notifier Notifier
	metrics  *metrics.Registry
	logger   logging.Logger
	now      func() time.Time
}

// NewManager creates a manager
func NewManager(opts ManagerOptions) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		repo:     opts.Repository,
		executor: opts.Executor,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   logging.OrNop(opts.Logger).With(logging.Component("tasks")),
		now:      func() time.Time { return opts.Now().UTC() },
	}
}

// Submit records a new task in INITIALIZING with its first trigger and hands
// it to the executor
func (m *Manager) Submit(ctx context.Context, sub Submission) (*Task, error) {
	t, err := m.newTask(sub, uuid.NewString(), "")
	if err != nil {
		return nil, err
	}
	t.push(&SimpleTrigger{Attempt: Attempt{StartTime: t.CreatedAt, Status: StatusInitializing}})

	if err := m.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	m.submitted(t)
	m.execute(ctx, t)
	return t, nil
}

// SubmitAggregate records a parent task whose trigger fans out to one child
// task per submission. Only the children are executed.
func (m *Manager) SubmitAggregate(ctx context.Context, parent Submission, children []Submission) (*Task, []*Task, error) {
	if len(children) == 0 {
		return nil, nil, controlerr.Validation("submit aggregate", errors.New("aggregate task needs at least one child"))
	}

	p, err := m.newTask(parent, uuid.NewString(), "")
	if err != nil {
		return nil, nil, err
	}

	kids := make([]*Task, len(children))
	ids := make([]string, len(children))
	for i, sub := range children {
		kid, err := m.newTask(sub, uuid.NewString(), p.ID)
		if err != nil {
			return nil, nil, err
		}
		kid.push(&SimpleTrigger{Attempt: Attempt{StartTime: kid.CreatedAt, Status: StatusInitializing}})
		kids[i] = kid
		ids[i] = kid.ID
	}
	p.push(&AggregateTrigger{
		Attempt:      Attempt{StartTime: p.CreatedAt, Status: StatusInitializing},
		ChildTaskIDs: ids,
	})

	// Parent first so child progress always finds it
	if err := m.repo.Create(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("failed to create aggregate task: %w", err)
	}
	m.submitted(p)
	for _, kid := range kids {
		if err := m.repo.Create(ctx, kid); err != nil {
			return nil, nil, fmt.Errorf("failed to create child task: %w", err)
		}
		m.submitted(kid)
	}
	for _, kid := range kids {
		m.execute(ctx, kid)
	}
	return p, kids, nil
}

func (m *Manager) newTask(sub Submission, id, parentID string) (*Task, error) {
	if sub.Kind == "" {
		return nil, controlerr.Validation("submit task", ErrEmptyKind)
	}
	now := m.now()
	t := &Task{
		ID:         id,
		Kind:       sub.Kind,
		Payload:    sub.Payload,
		Status:     StatusInitializing,
		Scheduled:  sub.Scheduled,
		ScheduleID: sub.ScheduleID,
		ParentID:   parentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if sub.Remediable {
		remediated := false
		t.Remediated = &remediated
	}
	return t, nil
}

func (m *Manager) submitted(t *Task) {
	origin := "manual"
	if t.Scheduled {
		origin = "scheduled"
	}
	if m.metrics != nil {
		m.metrics.RecordTaskSubmitted(origin)
	}
	m.logger.Info("Task submitted",
		logging.TaskID(t.ID),
		logging.String("kind", t.Kind),
		logging.String("origin", origin),
	)
	m.notify(t, EventCreated)
}

func (m *Manager) execute(ctx context.Context, t *Task) {
	if m.executor == nil {
		return
	}
	go m.executor.Execute(context.WithoutCancel(ctx), t.Clone())
}

// RecordProgress updates the current attempt and the task status as
// reported by an executor
func (m *Manager) RecordProgress(ctx context.Context, id string, percent int, status Status) (*Task, error) {
	const op = "record progress"

	if percent < 0 || percent > 100 {
		return nil, controlerr.Validation(op, fmt.Errorf("%w: %d", ErrInvalidProgress, percent))
	}
	if !status.Valid() {
		return nil, controlerr.Validation(op, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status))
	}
	return m.advance(ctx, op, id, status, percent, "")
}

// RecordFailure fails the current attempt with reason
func (m *Manager) RecordFailure(ctx context.Context, id, reason string) (*Task, error) {
	return m.advance(ctx, "record failure", id, StatusFailed, -1, reason)
}

// advance applies one executor report. percent < 0 keeps the current value.
func (m *Manager) advance(ctx context.Context, op, id string, status Status, percent int, reason string) (*Task, error) {
	t, err := m.get(ctx, op, id)
	if err != nil {
		return nil, err
	}

	switch cur := t.Current().(type) {
	case *AggregateTrigger:
		return nil, controlerr.Precondition(op, ErrAggregateTrigger)
	case *SimpleTrigger:
		if err := checkTransition(t.Status, status); err != nil {
			return nil, controlerr.Precondition(op, err)
		}
		if percent >= 0 {
			cur.PercentComplete = percent
		}
		m.apply(&cur.Attempt, status, reason)
	default:
		return nil, controlerr.Precondition(op, fmt.Errorf("%w: task has no trigger", ErrInvalidTransition))
	}

	previous := t.Status
	t.Status = status
	t.UpdatedAt = m.now()
	if err := m.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if previous != status {
		m.transitioned(t)
	}
	m.notify(t, eventFor(status))

	if t.ParentID != "" {
		if err := m.recomputeParent(ctx, t.ParentID); err != nil {
			m.logger.Warn("Failed to update aggregate task", logging.TaskID(t.ParentID), logging.Error(err))
		}
	}
	return t, nil
}

func checkTransition(from, to Status) error {
	switch {
	case from.Terminal():
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	case from == StatusInProgress && to == StatusInitializing:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// apply writes status into an attempt, closing it when terminal
func (m *Manager) apply(a *Attempt, status Status, reason string) {
	a.Status = status
	if reason != "" {
		a.FailureReason = reason
	}
	if status.Terminal() {
		end := m.now()
		a.EndTime = &end
		if status == StatusCompleted {
			a.PercentComplete = 100
		}
	}
}

// recomputeParent derives an aggregate task's state from its children:
// all completed -> COMPLETED, all finished with a failure -> FAILED,
// otherwise IN_PROGRESS. Progress is the mean of the children.
func (m *Manager) recomputeParent(ctx context.Context, parentID string) error {
	parent, err := m.repo.Get(ctx, parentID)
	if err != nil {
		return err
	}
	agg, ok := parent.Current().(*AggregateTrigger)
	if !ok || parent.Status.Terminal() {
		return nil
	}

	var (
		total, completed, failed int
	)
	for _, childID := range agg.ChildTaskIDs {
		child, err := m.repo.Get(ctx, childID)
		if err != nil {
			return fmt.Errorf("child %s: %w", childID, err)
		}
		if cur := child.Current(); cur != nil {
			total += cur.State().PercentComplete
		}
		switch child.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}

	n := len(agg.ChildTaskIDs)
	status := StatusInProgress
	switch {
	case completed == n:
		status = StatusCompleted
	case completed+failed == n:
		status = StatusFailed
	}

	agg.PercentComplete = total / max(n, 1)
	reason := ""
	if status == StatusFailed {
		reason = fmt.Sprintf("%d of %d child tasks failed", failed, n)
	}
	m.apply(&agg.Attempt, status, reason)

	previous := parent.Status
	parent.Status = status
	parent.UpdatedAt = m.now()
	if err := m.repo.Update(ctx, parent); err != nil {
		return err
	}
	if previous != status {
		m.transitioned(parent)
	}
	if parent.ParentID != "" {
		return m.recomputeParent(ctx, parent.ParentID)
	}
	return nil
}

// Retrigger starts a new attempt on a finished task
func (m *Manager) Retrigger(ctx context.Context, id string) (*Task, error) {
	const op = "retrigger"

	t, err := m.get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if t.IsAggregate() {
		return nil, controlerr.Precondition(op, ErrAggregateTrigger)
	}
	if !t.Status.Terminal() {
		return nil, controlerr.Precondition(op, ErrNotTerminal)
	}

	now := m.now()
	t.push(&SimpleTrigger{Attempt: Attempt{StartTime: now, Status: StatusInProgress}})
	t.Status = StatusInProgress
	t.UpdatedAt = now
	if t.Remediated != nil {
		remediated := false
		t.Remediated = &remediated
	}
	if err := m.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.transitioned(t)
	m.notify(t, EventRetriggered)
	m.execute(ctx, t)
	return t, nil
}

// Remediate marks a finished task as remediated. Remediating twice succeeds.
func (m *Manager) Remediate(ctx context.Context, id string) (*Task, error) {
	const op = "remediate"

	t, err := m.get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if t.Remediated == nil {
		return nil, controlerr.Precondition(op, fmt.Errorf("%w: %s", ErrNotRemediable, t.Kind))
	}
	if !t.Status.Terminal() {
		return nil, controlerr.Precondition(op, ErrNotTerminal)
	}
	if *t.Remediated {
		return t, nil
	}

	remediated := true
	t.Remediated = &remediated
	t.UpdatedAt = m.now()
	if err := m.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if m.metrics != nil {
		m.metrics.RecordRemediation()
	}
	m.logger.Info("Task remediated", logging.TaskID(id))
	m.notify(t, EventRemediated)
	return t, nil
}

// CleanupStale fails every active task whose current attempt started more
// than threshold ago. It does not stop executors; it only closes the books.
// A task that cannot be saved is logged and skipped.
func (m *Manager) CleanupStale(ctx context.Context, threshold time.Duration) ([]string, error) {
	start := time.Now()

	candidates, err := m.repo.List(ctx, Filter{Statuses: []Status{StatusInitializing, StatusInProgress}})
	if err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}

	now := m.now()
	var cleaned []string
	var parents []string
	for _, t := range candidates {
		cur := t.Current()
		if cur == nil || now.Sub(cur.State().StartTime) <= threshold {
			continue
		}

		a := cur.State()
		a.Status = StatusFailed
		a.FailureReason = CleanupReason
		a.PercentComplete = 100
		end := now
		a.EndTime = &end
		t.Status = StatusFailed
		t.UpdatedAt = now

		if err := m.repo.Update(ctx, t); err != nil {
			m.logger.Error("Failed to clean up stale task", logging.TaskID(t.ID), logging.Error(err))
			continue
		}

		cleaned = append(cleaned, t.ID)
		m.transitioned(t)
		m.notify(t, EventFailed)
		if t.ParentID != "" {
			parents = append(parents, t.ParentID)
		}
	}

	for _, parentID := range parents {
		if err := m.recomputeParent(ctx, parentID); err != nil {
			m.logger.Warn("Failed to update aggregate task", logging.TaskID(parentID), logging.Error(err))
		}
	}

	if m.metrics != nil {
		m.metrics.RecordSweep(len(cleaned), time.Since(start))
	}
	if len(cleaned) == 0 {
		return nil, ErrNoStaleTasks
	}

	m.logger.Info("Stale tasks cleaned up",
		logging.Count(len(cleaned)),
		logging.Duration("threshold", threshold),
	)
	return cleaned, nil
}

// Get returns a task
func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	return m.get(ctx, "get task", id)
}

// List returns tasks matching f
func (m *Manager) List(ctx context.Context, f Filter) ([]*Task, error) {
	return m.repo.List(ctx, f)
}

// DeleteBySchedule removes every task spawned by a schedule and returns
// their ids
func (m *Manager) DeleteBySchedule(ctx context.Context, scheduleID string) ([]string, error) {
	if scheduleID == "" {
		return nil, controlerr.Validation("delete tasks", errors.New("schedule id cannot be empty"))
	}
	tasks, err := m.repo.List(ctx, Filter{ScheduleID: scheduleID})
	if err != nil {
		return nil, err
	}

	deleted := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if err := m.repo.Delete(ctx, t.ID); err != nil && !errors.Is(err, ErrTaskNotFound) {
			return deleted, fmt.Errorf("failed to delete task %s: %w", t.ID, err)
		}
		deleted = append(deleted, t.ID)
	}
	return deleted, nil
}

func (m *Manager) get(ctx context.Context, op, id string) (*Task, error) {
	t, err := m.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, controlerr.NotFound(op, fmt.Errorf("%w: %s", ErrTaskNotFound, id))
		}
		return nil, err
	}
	return t, nil
}

func (m *Manager) transitioned(t *Task) {
	if m.metrics != nil {
		m.metrics.RecordTaskTransition(string(t.Status))
	}
}

// notify publishes an event for simple triggers only; aggregate parents are
// reported through their children
func (m *Manager) notify(t *Task, typ EventType) {
	if m.notifier == nil {
		return
	}
	switch cur := t.Current().(type) {
	case *SimpleTrigger:
		m.notifier.Notify(Event{
			Type:     typ,
			TaskID:   t.ID,
			ParentID: t.ParentID,
			Kind:     t.Kind,
			Status:   t.Status,
			Percent:  cur.PercentComplete,
			Reason:   cur.FailureReason,
			At:       m.now(),
		})
	case *AggregateTrigger:
	}
}

func eventFor(s Status) EventType {
	switch s {
	case StatusCompleted:
		return EventCompleted
	case StatusFailed:
		return EventFailed
	default:
		return EventProgress
	}
}
