package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
)

// ErrNoHandler is the failure reason for a task kind nobody handles
var ErrNoHandler = errors.New("no handler for task kind")

// Reporter lets a handler publish intermediate progress
type Reporter interface {
	Progress(ctx context.Context, percent int) error
}

// Handler performs one task. Returning an error fails the current attempt;
// returning nil completes it.
type Handler func(ctx context.Context, t *Task, r Reporter) error

// Dispatcher is an Executor that routes tasks to a Handler by kind and runs
// them on a bounded worker pool
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	manager  *Manager
	pool     *workerPool
	logger   logging.Logger
}

// NewDispatcher creates a dispatcher with workers goroutines. Attach a
// Manager before the first task is submitted.
func NewDispatcher(workers int, logger logging.Logger) *Dispatcher {
	logger = logging.OrNop(logger).With(logging.Component("executor"))
	return &Dispatcher{
		handlers: make(map[string]Handler),
		pool:     newWorkerPool(workers, logger),
		logger:   logger,
	}
}

// Attach sets the manager progress is reported to
func (d *Dispatcher) Attach(m *Manager) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manager = m
}

// Handle registers h for kind, replacing any previous handler
func (d *Dispatcher) Handle(kind string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Kinds lists handled kinds, sorted
func (d *Dispatcher) Kinds() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kinds := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Execute implements Executor
func (d *Dispatcher) Execute(ctx context.Context, t *Task) {
	d.mu.RLock()
	h, ok := d.handlers[t.Kind]
	m := d.manager
	d.mu.RUnlock()

	if m == nil {
		d.logger.Error("Dispatcher has no manager attached", logging.TaskID(t.ID))
		return
	}

	accepted := d.pool.submit(func() {
		if !ok {
			d.fail(ctx, m, t, fmt.Errorf("%w %q", ErrNoHandler, t.Kind))
			return
		}
		if _, err := m.RecordProgress(ctx, t.ID, 0, StatusInProgress); err != nil {
			d.logger.Warn("Failed to mark task in progress", logging.TaskID(t.ID), logging.Error(err))
			return
		}
		if err := invoke(ctx, h, t, reporter{manager: m, id: t.ID}); err != nil {
			d.fail(ctx, m, t, err)
			return
		}
		if _, err := m.RecordProgress(ctx, t.ID, 100, StatusCompleted); err != nil {
			d.logger.Warn("Failed to complete task", logging.TaskID(t.ID), logging.Error(err))
		}
	})
	if !accepted {
		d.logger.Warn("Dispatcher closed, task left for the stale sweep", logging.TaskID(t.ID))
	}
}

// invoke runs h, turning a panic into an error so the task still fails
func invoke(ctx context.Context, h Handler, t *Task, r Reporter) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h(ctx, t, r)
}

func (d *Dispatcher) fail(ctx context.Context, m *Manager, t *Task, cause error) {
	d.logger.Warn("Task failed",
		logging.TaskID(t.ID),
		logging.String("kind", t.Kind),
		logging.Error(cause),
	)
	if _, err := m.RecordFailure(ctx, t.ID, cause.Error()); err != nil {
		d.logger.Error("Failed to record task failure", logging.TaskID(t.ID), logging.Error(err))
	}
}

// Close stops accepting tasks and waits for running handlers
func (d *Dispatcher) Close() {
	d.pool.close()
}

type reporter struct {
	manager *Manager
	id      string
}

func (r reporter) Progress(ctx context.Context, percent int) error {
	_, err := r.manager.RecordProgress(ctx, r.id, percent, StatusInProgress)
	return err
}
