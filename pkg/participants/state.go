// Package participants holds the resync participants for mutable node
// configuration: plugins, logger levels, metric providers, user sessions and
// cluster parameters. Each keeps its canonical state in a StateRepository
// and a derived local view that Resync converges.
package participants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

var (
	ErrRecordNotFound = errors.New("state record not found")
	ErrCorruptRecord  = errors.New("state record cannot be decoded")
	ErrUnchanged      = errors.New("state already has the requested value")
	ErrEmptyKey       = errors.New("state key cannot be empty")
)

// Record is one participant state entry
type Record struct {
	Participant string          `json:"participant"`
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Version     int64           `json:"version"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StateRepository persists participant state. Put bumps Version and sets
// UpdatedAt on rec.
type StateRepository interface {
	Get(ctx context.Context, participant, key string) (*Record, error)
	// List returns a participant's records ordered by key; an empty
	// participant lists every record
	List(ctx context.Context, participant string) ([]*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, participant, key string) error
}

// Broadcaster asks every peer to resync a participant object
type Broadcaster interface {
	Broadcast(ctx context.Context, participant, objectID string)
}

// Options wires a participant
type Options struct {
	Repository  StateRepository
	Broadcaster Broadcaster // optional
	Metrics     *metrics.Registry
	Logger      logging.Logger
}

// MemoryStateRepository is an in-process StateRepository
type MemoryStateRepository struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record
	now     func() time.Time
}

// NewMemoryStateRepository creates an empty repository
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{
		records: make(map[string]map[string]*Record),
		now:     time.Now,
	}
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Value = slices.Clone(r.Value)
	return &c
}

// Get returns a copy of a record
func (r *MemoryStateRepository) Get(ctx context.Context, participant, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[participant][key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

// List returns records ordered by participant then key
func (r *MemoryStateRepository) List(ctx context.Context, participant string) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Record
	for name, byKey := range r.records {
		if participant != "" && name != participant {
			continue
		}
		for _, rec := range byKey {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Participant != out[j].Participant {
			return out[i].Participant < out[j].Participant
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// Put inserts or replaces a record
func (r *MemoryStateRepository) Put(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKey, ok := r.records[rec.Participant]
	if !ok {
		byKey = make(map[string]*Record)
		r.records[rec.Participant] = byKey
	}
	if prev, ok := byKey[rec.Key]; ok {
		rec.Version = prev.Version + 1
	} else {
		rec.Version = 1
	}
	rec.UpdatedAt = r.now().UTC()
	byKey[rec.Key] = cloneRecord(rec)
	return nil
}

// Delete removes a record
func (r *MemoryStateRepository) Delete(ctx context.Context, participant, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[participant][key]; !ok {
		return ErrRecordNotFound
	}
	delete(r.records[participant], key)
	return nil
}

// state is the typed store access shared by every participant
type state[T any] struct {
	participant string
	repo        StateRepository
	broadcaster Broadcaster
	logger      logging.Logger
}

func newState[T any](participant string, opts Options) state[T] {
	return state[T]{
		participant: participant,
		repo:        opts.Repository,
		broadcaster: opts.Broadcaster,
		logger:      logging.OrNop(opts.Logger).With(logging.Component(participant)),
	}
}

func (s *state[T]) decode(rec *Record) (T, error) {
	var v T
	if err := json.Unmarshal(rec.Value, &v); err != nil {
		return v, fmt.Errorf("%w: %s/%s: %v", ErrCorruptRecord, rec.Participant, rec.Key, err)
	}
	return v, nil
}

// get loads one value; ok is false when no record exists
func (s *state[T]) get(ctx context.Context, key string) (v T, ok bool, err error) {
	rec, err := s.repo.Get(ctx, s.participant, key)
	if errors.Is(err, ErrRecordNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("failed to load %s/%s: %w", s.participant, key, err)
	}
	v, err = s.decode(rec)
	return v, err == nil, err
}

func (s *state[T]) all(ctx context.Context) (map[string]T, error) {
	recs, err := s.repo.List(ctx, s.participant)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.participant, err)
	}
	out := make(map[string]T, len(recs))
	for _, rec := range recs {
		v, err := s.decode(rec)
		if err != nil {
			return nil, err
		}
		out[rec.Key] = v
	}
	return out, nil
}

// put persists v and broadcasts key
func (s *state[T]) put(ctx context.Context, key string, v T) error {
	if key == "" {
		return ErrEmptyKey
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", s.participant, key, err)
	}
	if err := s.repo.Put(ctx, &Record{Participant: s.participant, Key: key, Value: b}); err != nil {
		return fmt.Errorf("failed to save %s/%s: %w", s.participant, key, err)
	}
	s.broadcast(ctx, key)
	return nil
}

// remove deletes key and broadcasts it; ok is false when nothing was stored
func (s *state[T]) remove(ctx context.Context, key string) (bool, error) {
	err := s.repo.Delete(ctx, s.participant, key)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", s.participant, key, err)
	}
	s.broadcast(ctx, key)
	return true, nil
}

func (s *state[T]) broadcast(ctx context.Context, key string) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, s.participant, key)
	}
}

// sortedKeys returns the keys of m in order
func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
