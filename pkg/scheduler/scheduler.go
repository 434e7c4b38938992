package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

// ParticipantName is the resync participant that converges engine
// registrations
const ParticipantName = "scheduler"

// Broadcaster asks every peer to resync a participant object
type Broadcaster interface {
	Broadcast(ctx context.Context, participant, objectID string)
}

// Leadership decides whether this node fires triggers
type Leadership interface {
	IsLeader() bool
}

// LeadershipFunc adapts a function to Leadership
type LeadershipFunc func() bool

// IsLeader calls f
func (f LeadershipFunc) IsLeader() bool { return f() }

// Tasks is the subset of task.Manager the scheduler drives
type Tasks interface {
	Submit(ctx context.Context, sub task.Submission) (*task.Task, error)
	DeleteBySchedule(ctx context.Context, scheduleID string) ([]string, error)
}

// Options wires a Scheduler
type Options struct {
	Repository  Repository
	Engine      Engine
	Tasks       Tasks
	Broadcaster Broadcaster // optional
	Leadership  Leadership  // optional, nil fires on every node
	FireTimeout time.Duration
	Metrics     *metrics.Registry
	Logger      logging.Logger
	Now         func() time.Time
}

// Scheduler owns spec state transitions and turns firings into tasks
type Scheduler struct {
	// mu serializes read-modify-write cycles on this node
	mu sync.Mutex

	repo        Repository
	engine      Engine
	tasks       Tasks
	broadcaster Broadcaster
	leadership  Leadership
	fireTimeout time.Duration
	metrics     *metrics.Registry
	logger      logging.Logger
	now         func() time.Time
}

// New creates a scheduler. Call Restore once at startup.
func New(opts Options) (*Scheduler, error) {
	switch {
	case opts.Repository == nil:
		return nil, ErrMissingRepository
	case opts.Engine == nil:
		return nil, ErrMissingEngine
	case opts.Tasks == nil:
		return nil, ErrMissingTasks
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FireTimeout <= 0 {
		opts.FireTimeout = 30 * time.Second
	}
	return &Scheduler{
		repo:        opts.Repository,
		engine:      opts.Engine,
		tasks:       opts.Tasks,
		broadcaster: opts.Broadcaster,
		leadership:  opts.Leadership,
		fireTimeout: opts.FireTimeout,
		metrics:     opts.Metrics,
		logger:      logging.OrNop(opts.Logger).With(logging.Component("scheduler")),
		now:         func() time.Time { return opts.Now().UTC() },
	}, nil
}

// Create validates, persists and registers a new spec. The returned spec is
// SCHEDULED.
func (s *Scheduler) Create(ctx context.Context, in Spec) (*Spec, error) {
	const op = "create schedule"

	spec := in.Clone()
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	if err := s.checkDefinition(spec); err != nil {
		return nil, controlerr.Validation(op, err)
	}

	now := s.now()
	spec.Status = StatusInitializing
	spec.FailureReason = ""
	spec.FireCount = 0
	spec.LastFiredAt = nil
	spec.CreatedAt = now
	spec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Create(ctx, spec); err != nil {
		if errors.Is(err, ErrScheduleExists) {
			return nil, controlerr.Precondition(op, fmt.Errorf("%w: %s", ErrScheduleExists, spec.ID))
		}
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	if err := s.engine.Register(spec, s.fire); err != nil {
		spec.Status = StatusFailed
		spec.FailureReason = err.Error()
		if uerr := s.save(ctx, spec); uerr != nil {
			s.logger.Error("Failed to record registration failure", logging.ScheduleID(spec.ID), logging.Error(uerr))
		}
		return nil, controlerr.Validation(op, err)
	}

	spec.Status = StatusScheduled
	if err := s.save(ctx, spec); err != nil {
		s.engine.Unregister(spec.ID)
		return nil, fmt.Errorf("failed to schedule: %w", err)
	}

	s.changed(ctx, "create", spec.ID)
	s.logger.Info("Schedule created",
		logging.ScheduleID(spec.ID),
		logging.String("job_type", string(spec.JobType)),
		logging.String("trigger", spec.trigger()),
	)
	return spec, nil
}

// Pause stops firing SCHEDULED specs and returns the ids it paused. Unknown
// ids and ids in any other state are skipped.
func (s *Scheduler) Pause(ctx context.Context, ids []string) ([]string, error) {
	return s.transition(ctx, "pause", ids, func(spec *Spec) bool {
		if spec.Status != StatusScheduled {
			return false
		}
		spec.Status = StatusPaused
		return true
	})
}

// Resume re-registers PAUSED specs and returns the ids it resumed. A SIMPLE
// spec whose time passed while paused fires immediately.
func (s *Scheduler) Resume(ctx context.Context, ids []string) ([]string, error) {
	return s.transition(ctx, "resume", ids, func(spec *Spec) bool {
		if spec.Status != StatusPaused {
			return false
		}
		spec.Status = StatusScheduled
		return true
	})
}

// Cancel stops future firings of active specs and returns the ids it
// cancelled
func (s *Scheduler) Cancel(ctx context.Context, ids []string) ([]string, error) {
	return s.transition(ctx, "cancel", ids, func(spec *Spec) bool {
		if !spec.Status.Active() {
			return false
		}
		spec.Status = StatusCancelled
		return true
	})
}

// CancelAll cancels every active spec
func (s *Scheduler) CancelAll(ctx context.Context) ([]string, error) {
	active, err := s.repo.List(ctx, ActiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	ids := make([]string, len(active))
	for i, spec := range active {
		ids[i] = spec.ID
	}
	return s.Cancel(ctx, ids)
}

// transition applies mutate to each id under the lock and reconciles the
// engine for those it changed
func (s *Scheduler) transition(ctx context.Context, op string, ids []string, mutate func(*Spec) bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	processed := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		spec, err := s.repo.Get(ctx, id)
		if errors.Is(err, ErrScheduleNotFound) {
			continue
		}
		if err != nil {
			return processed, fmt.Errorf("failed to load schedule %s: %w", id, err)
		}
		if !mutate(spec) {
			continue
		}
		if err := s.save(ctx, spec); err != nil {
			return processed, fmt.Errorf("failed to %s schedule %s: %w", op, id, err)
		}
		s.converge(spec)
		s.changed(ctx, op, id)
		processed = append(processed, id)
	}

	s.logger.Info("Schedules updated",
		logging.Operation(op),
		logging.Count(len(processed)),
		logging.Int("requested", len(ids)),
	)
	return processed, nil
}

// Modify replaces the trigger definition of an active spec in place. ID,
// status, CreatedAt and firing history are kept. A paused spec stays paused.
func (s *Scheduler) Modify(ctx context.Context, in Spec) (*Spec, error) {
	const op = "modify schedule"

	if in.ID == "" {
		return nil, controlerr.Validation(op, ErrEmptyScheduleID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := s.load(ctx, op, in.ID)
	if err != nil {
		return nil, err
	}
	if !spec.Status.Active() {
		return nil, controlerr.Precondition(op, fmt.Errorf("%w: %s is %s", ErrNotModifiable, spec.ID, spec.Status))
	}

	spec.JobType = in.JobType
	spec.CronExpression = in.CronExpression
	spec.ScheduledTime = in.ScheduledTime
	if in.Name != "" {
		spec.Name = in.Name
	}
	if in.TaskKind != "" {
		spec.TaskKind = in.TaskKind
	}
	if in.Payload != nil {
		spec.Payload = in.Payload
	}
	spec = spec.Clone()

	if err := s.checkDefinition(spec); err != nil {
		return nil, controlerr.Validation(op, err)
	}

	if spec.Status == StatusScheduled {
		if err := s.engine.Register(spec, s.fire); err != nil {
			return nil, controlerr.Validation(op, err)
		}
	}
	if err := s.save(ctx, spec); err != nil {
		return nil, fmt.Errorf("failed to modify schedule: %w", err)
	}

	s.changed(ctx, "modify", spec.ID)
	s.logger.Info("Schedule modified", logging.ScheduleID(spec.ID), logging.String("trigger", spec.trigger()))
	return spec, nil
}

// Delete removes specs and, when alsoDeleteTasks is set, the tasks they
// spawned. Returns the ids it deleted.
func (s *Scheduler) Delete(ctx context.Context, ids []string, alsoDeleteTasks bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	processed := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		err := s.repo.Delete(ctx, id)
		if errors.Is(err, ErrScheduleNotFound) {
			continue
		}
		if err != nil {
			return processed, fmt.Errorf("failed to delete schedule %s: %w", id, err)
		}
		s.engine.Unregister(id)

		if alsoDeleteTasks {
			removed, err := s.tasks.DeleteBySchedule(ctx, id)
			if err != nil {
				return processed, fmt.Errorf("failed to delete tasks of schedule %s: %w", id, err)
			}
			s.logger.Info("Scheduled tasks deleted", logging.ScheduleID(id), logging.Count(len(removed)))
		}

		s.changed(ctx, "delete", id)
		processed = append(processed, id)
	}
	return processed, nil
}

// Get returns a spec
func (s *Scheduler) Get(ctx context.Context, id string) (*Spec, error) {
	return s.load(ctx, "get schedule", id)
}

// GetActive returns specs that are SCHEDULED, PAUSED or INITIALIZING
func (s *Scheduler) GetActive(ctx context.Context) ([]*Spec, error) {
	return s.repo.List(ctx, ActiveStatuses...)
}

// List returns specs in the given statuses, or all specs
func (s *Scheduler) List(ctx context.Context, statuses ...Status) ([]*Spec, error) {
	return s.repo.List(ctx, statuses...)
}

// Restore registers every SCHEDULED spec with the engine and finishes specs
// left INITIALIZING by an interrupted Create. Returns how many are
// registered.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	specs, err := s.repo.List(ctx, StatusScheduled, StatusInitializing)
	if err != nil {
		return 0, fmt.Errorf("failed to list schedules: %w", err)
	}

	restored := 0
	for _, spec := range specs {
		if err := s.engine.Register(spec, s.fire); err != nil {
			s.logger.Warn("Failed to restore schedule", logging.ScheduleID(spec.ID), logging.Error(err))
			spec.Status = StatusFailed
			spec.FailureReason = err.Error()
			if err := s.save(ctx, spec); err != nil {
				return restored, err
			}
			continue
		}
		if spec.Status == StatusInitializing {
			spec.Status = StatusScheduled
			if err := s.save(ctx, spec); err != nil {
				return restored, err
			}
		}
		restored++
	}

	s.logger.Info("Schedules restored", logging.Count(restored))
	return restored, nil
}

// fire is the engine callback. The stored spec decides whether to fire.
func (s *Scheduler) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
	defer cancel()

	if s.leadership != nil && !s.leadership.IsLeader() {
		s.recordFire("", "skipped")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spec, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrScheduleNotFound) {
		s.engine.Unregister(id)
		s.recordFire("", "skipped")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load firing schedule", logging.ScheduleID(id), logging.Error(err))
		s.recordFire("", "failed")
		return
	}
	if spec.Status != StatusScheduled {
		s.engine.Unregister(id)
		s.recordFire(string(spec.JobType), "skipped")
		return
	}

	t, submitErr := s.tasks.Submit(ctx, task.Submission{
		Kind:       spec.TaskKind,
		Payload:    spec.Payload,
		Scheduled:  true,
		ScheduleID: spec.ID,
	})

	now := s.now()
	spec.FireCount++
	spec.LastFiredAt = &now
	if spec.JobType == JobSimple {
		spec.Status = StatusCompleted
		if submitErr != nil {
			spec.Status = StatusFailed
			spec.FailureReason = submitErr.Error()
		}
	}

	if err := s.save(ctx, spec); err != nil {
		s.logger.Error("Failed to record firing", logging.ScheduleID(id), logging.Error(err))
	}
	if spec.JobType == JobSimple {
		s.engine.Unregister(id)
		s.changed(ctx, "", id)
	}

	if submitErr != nil {
		s.recordFire(string(spec.JobType), "failed")
		s.logger.Error("Scheduled task submission failed", logging.ScheduleID(id), logging.Error(submitErr))
		return
	}
	s.recordFire(string(spec.JobType), "submitted")
	s.logger.Info("Schedule fired",
		logging.ScheduleID(id),
		logging.TaskID(t.ID),
		logging.Int64("fire_count", spec.FireCount),
	)
}

// checkDefinition validates the trigger and rejects SIMPLE times that are
// not in the future
func (s *Scheduler) checkDefinition(spec *Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.JobType == JobSimple && !spec.ScheduledTime.After(s.now()) {
		return fmt.Errorf("%w: %w", ErrInvalidScheduleInput, ErrScheduledTimeInPast)
	}
	return nil
}

// converge makes the local engine mirror spec
func (s *Scheduler) converge(spec *Spec) {
	if spec.Status != StatusScheduled {
		s.engine.Unregister(spec.ID)
		return
	}
	if err := s.engine.Register(spec, s.fire); err != nil {
		s.logger.Warn("Failed to register schedule", logging.ScheduleID(spec.ID), logging.Error(err))
	}
}

func (s *Scheduler) load(ctx context.Context, op, id string) (*Spec, error) {
	spec, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return nil, controlerr.NotFound(op, fmt.Errorf("%w: %s", ErrScheduleNotFound, id))
		}
		return nil, err
	}
	return spec, nil
}

func (s *Scheduler) save(ctx context.Context, spec *Spec) error {
	spec.UpdatedAt = s.now()
	return s.repo.Update(ctx, spec)
}

// changed records an admin operation and asks peers to converge on id
func (s *Scheduler) changed(ctx context.Context, op, id string) {
	if s.metrics != nil && op != "" {
		s.metrics.RecordSchedulerOp(op, 1)
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, ParticipantName, id)
	}
}

func (s *Scheduler) recordFire(jobType, result string) {
	if s.metrics != nil {
		s.metrics.RecordFire(jobType, result)
	}
}
