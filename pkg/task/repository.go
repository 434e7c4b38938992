package task

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// Filter selects tasks in List. Zero fields match everything.
type Filter struct {
	Statuses   []Status
	Kind       string
	ScheduleID string
	ParentID   string
}

// Match reports whether t passes the filter
func (f Filter) Match(t *Task) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.ScheduleID != "" && t.ScheduleID != f.ScheduleID {
		return false
	}
	if f.ParentID != "" && t.ParentID != f.ParentID {
		return false
	}
	return true
}

// Repository persists tasks
type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, t *Task) error
	// List returns matching tasks ordered by creation time
	List(ctx context.Context, f Filter) ([]*Task, error)
	Delete(ctx context.Context, id string) error
}

// MemoryRepository is an in-process Repository
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]*Task)}
}

// Create stores a new task
func (r *MemoryRepository) Create(ctx context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.ID]; exists {
		return ErrTaskExists
	}
	r.tasks[t.ID] = t.Clone()
	return nil
}

// Get returns a copy of a task
func (r *MemoryRepository) Get(ctx context.Context, id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Update replaces a stored task
func (r *MemoryRepository) Update(ctx context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; !ok {
		return ErrTaskNotFound
	}
	r.tasks[t.ID] = t.Clone()
	return nil
}

// List returns copies of matching tasks
func (r *MemoryRepository) List(ctx context.Context, f Filter) ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a task
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}
