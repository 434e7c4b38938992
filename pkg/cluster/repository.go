package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists the singleton cluster config.
//
// Save assigns the next Version and UpdatedAt on cfg before storing it, so
// callers see the persisted values without a second Load.
type Repository interface {
	Load(ctx context.Context) (*Config, error)
	Save(ctx context.Context, cfg *Config) error
}

// MemoryRepository is an in-process Repository. Several coordinators in one
// process may share it to model a shared store.
type MemoryRepository struct {
	mu  sync.RWMutex
	cfg *Config
	now func() time.Time
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

// Load returns a copy of the stored config
func (r *MemoryRepository) Load(ctx context.Context) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.cfg == nil {
		return nil, ErrConfigNotFound
	}
	return r.cfg.Clone(), nil
}

// Save stores a copy of cfg with the next version
func (r *MemoryRepository) Save(ctx context.Context, cfg *Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var version int64
	if r.cfg != nil {
		version = r.cfg.Version
	}
	cfg.Version = version + 1
	cfg.UpdatedAt = r.now().UTC()
	cfg.Members = sortedMembers(cfg.Members)
	r.cfg = cfg.Clone()
	return nil
}

// Bootstrap describes the config written on first boot
type Bootstrap struct {
	ClusterName     string
	ValidationToken string // generated when empty
	DeploymentMode  DeploymentMode
	Quorum          int
	Members         []string
}

// EnsureConfig returns the persisted config, creating it from b if none exists
func EnsureConfig(ctx context.Context, repo Repository, b Bootstrap) (*Config, error) {
	cfg, err := repo.Load(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrConfigNotFound) {
		return nil, fmt.Errorf("failed to load cluster config: %w", err)
	}

	mode := b.DeploymentMode
	if mode == "" {
		mode = ModeStandalone
	}

	quorum := b.Quorum
	switch mode {
	case ModeStandalone:
		quorum = 1
	case ModeCluster:
		quorum = max(quorum, 2, RequiredQuorum(ModeCluster, len(b.Members)))
	}

	token := b.ValidationToken
	if token == "" {
		token = uuid.NewString()
	}

	cfg = &Config{
		ID:              uuid.NewString(),
		ClusterName:     b.ClusterName,
		ValidationToken: token,
		DeploymentMode:  mode,
		Quorum:          quorum,
		Members:         sortedMembers(b.Members),
	}
	if err := cfg.Validate(len(cfg.Members)); err != nil {
		return nil, err
	}
	if err := repo.Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to create cluster config: %w", err)
	}
	return cfg, nil
}
