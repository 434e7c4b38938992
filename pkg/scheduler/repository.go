package scheduler

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// Repository persists specs
type Repository interface {
	Create(ctx context.Context, s *Spec) error
	Get(ctx context.Context, id string) (*Spec, error)
	Update(ctx context.Context, s *Spec) error
	// List returns specs in any of statuses (all when empty), oldest first
	List(ctx context.Context, statuses ...Status) ([]*Spec, error)
	Delete(ctx context.Context, id string) error
}

// MemoryRepository is an in-process Repository
type MemoryRepository struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{specs: make(map[string]*Spec)}
}

// Create stores a new spec
func (r *MemoryRepository) Create(ctx context.Context, s *Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[s.ID]; exists {
		return ErrScheduleExists
	}
	r.specs[s.ID] = s.Clone()
	return nil
}

// Get returns a copy of a spec
func (r *MemoryRepository) Get(ctx context.Context, id string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.specs[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return s.Clone(), nil
}

// Update replaces a stored spec
func (r *MemoryRepository) Update(ctx context.Context, s *Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.specs[s.ID]; !ok {
		return ErrScheduleNotFound
	}
	r.specs[s.ID] = s.Clone()
	return nil
}

// List returns matching specs ordered by creation time
func (r *MemoryRepository) List(ctx context.Context, statuses ...Status) ([]*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Spec, 0, len(r.specs))
	for _, s := range r.specs {
		if len(statuses) > 0 && !slices.Contains(statuses, s.Status) {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a spec
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.specs[id]; !ok {
		return ErrScheduleNotFound
	}
	delete(r.specs, id)
	return nil
}
