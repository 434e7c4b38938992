package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// FireFunc is called by an Engine when a registered spec fires
type FireFunc func(id string)

// Engine fires registered specs. Register replaces any registration with the
// same id.
type Engine interface {
	Register(s *Spec, fire FireFunc) error
	Unregister(id string)
	Registered() []string
	Stop(ctx context.Context) error
}

type registration struct {
	jobType JobType
	trigger string
	entry   cron.EntryID
	timer   *time.Timer
	spent   bool // SIMPLE timer has run
}

// CronEngine fires CRON specs through robfig/cron and SIMPLE specs through
// one-shot timers
type CronEngine struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*registration
	metrics *metrics.Registry
	logger  logging.Logger
}

// NewCronEngine creates and starts an engine. Times are evaluated in UTC.
func NewCronEngine(reg *metrics.Registry, logger logging.Logger) *CronEngine {
	logger = logging.OrNop(logger).With(logging.Component("cron"))
	cl := cronLogger{logger}

	e := &CronEngine{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		jobs:    make(map[string]*registration),
		metrics: reg,
		logger:  logger,
	}
	e.cron.Start()
	return e
}

// Register schedules s. An unchanged registration is left alone unless it is
// a SIMPLE timer that has already run, which is re-armed.
func (e *CronEngine) Register(s *Spec, fire FireFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	trigger := s.trigger()
	if cur, ok := e.jobs[s.ID]; ok {
		if cur.trigger == trigger && !cur.spent {
			return nil
		}
		e.remove(s.ID, cur)
	}

	id := s.ID
	r := &registration{jobType: s.JobType, trigger: trigger}
	switch s.JobType {
	case JobCron:
		entry, err := e.cron.AddFunc(s.CronExpression, func() { fire(id) })
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidScheduleInput, err)
		}
		r.entry = entry
	case JobSimple:
		if s.ScheduledTime == nil {
			return fmt.Errorf("%w: SIMPLE job without scheduled time", ErrInvalidScheduleInput)
		}
		r.timer = time.AfterFunc(max(time.Until(*s.ScheduledTime), 0), func() {
			e.spend(id, r)
			fire(id)
		})
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidScheduleInput, s.JobType)
	}

	e.jobs[id] = r
	e.updateGauge()
	e.logger.Debug("Trigger registered", logging.ScheduleID(id), logging.String("trigger", trigger))
	return nil
}

// Unregister stops future firings of id
func (e *CronEngine) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.jobs[id]; ok {
		e.remove(id, r)
		e.updateGauge()
	}
}

func (e *CronEngine) spend(id string, r *registration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.jobs[id] == r {
		r.spent = true
	}
}

func (e *CronEngine) remove(id string, r *registration) {
	if r.timer != nil {
		r.timer.Stop()
	} else {
		e.cron.Remove(r.entry)
	}
	delete(e.jobs, id)
}

// Registered returns the registered ids, sorted
func (e *CronEngine) Registered() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.jobs))
	for id := range e.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Next returns the next firing time of a registered CRON spec
func (e *CronEngine) Next(id string) (time.Time, bool) {
	e.mu.Lock()
	r, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok || r.timer != nil {
		return time.Time{}, false
	}
	return e.cron.Entry(r.entry).Next, true
}

// Stop halts every trigger and waits for running cron jobs
func (e *CronEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	for id, r := range e.jobs {
		e.remove(id, r)
	}
	e.updateGauge()
	e.mu.Unlock()

	select {
	case <-e.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *CronEngine) updateGauge() {
	if e.metrics == nil {
		return
	}
	counts := map[JobType]int{JobCron: 0, JobSimple: 0}
	for _, r := range e.jobs {
		counts[r.jobType]++
	}
	for jt, n := range counts {
		e.metrics.SetSchedulerJobs(string(jt), n)
	}
}

// cronLogger adapts logging.Logger to cron.Logger
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(kvFields(keysAndValues), logging.Error(err))...)
}

func kvFields(kv []any) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logging.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
