package cluster

import (
	"context"
	"errors"
	"sync"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/membership"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// ParticipantName is the resync participant name of the cluster config
const ParticipantName = "cluster-config"

// ConfigParticipant keeps a node's view of the cluster config in step with
// the store. Every resync re-reads the record and re-applies fencing, so a
// repeated or late hint converges to the same state.
type ConfigParticipant struct {
	repo       Repository
	membership membership.Provider
	fencer     Fencer
	metrics    *metrics.Registry
	logger     logging.Logger

	mu      sync.RWMutex
	current *Config
}

// NewConfigParticipant creates the participant
func NewConfigParticipant(repo Repository, members membership.Provider, fencer Fencer, reg *metrics.Registry, logger logging.Logger) *ConfigParticipant {
	return &ConfigParticipant{
		repo:       repo,
		membership: members,
		fencer:     fencer,
		metrics:    reg,
		logger:     logging.OrNop(logger).With(logging.Component("cluster"), logging.Participant(ParticipantName)),
	}
}

// Name implements resync.Participant
func (p *ConfigParticipant) Name() string {
	return ParticipantName
}

// Resync re-reads the config and applies it locally. The object id is only
// a hint: the config is a singleton so every id resolves to the same record.
func (p *ConfigParticipant) Resync(ctx context.Context, objectID string) error {
	cfg, err := p.repo.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return controlerr.NotFound("resync cluster config", err)
		}
		return err
	}
	if objectID != "" && objectID != cfg.ID {
		p.logger.Debug("Resync hint does not match config id", logging.ObjectID(objectID), logging.String("config_id", cfg.ID))
	}

	p.mu.Lock()
	p.current = cfg
	p.mu.Unlock()

	snap := p.membership.Snapshot()
	p.applyFencing(cfg, snap)

	if p.metrics != nil {
		p.metrics.UpdateClusterMetrics(snap.Size(), cfg.Quorum, snap.Size() >= cfg.Quorum, snap.IsLocalOldest(), cfg.Version)
		p.metrics.SetDeploymentMode(cfg.DeploymentMode.Label())
	}

	p.logger.Debug("Cluster config resynced",
		logging.String("mode", string(cfg.DeploymentMode)),
		logging.Int("quorum", cfg.Quorum),
		logging.Int64("version", cfg.Version),
	)
	return nil
}

// applyFencing fences every node but the oldest while in STANDALONE
func (p *ConfigParticipant) applyFencing(cfg *Config, snap membership.Snapshot) {
	if p.fencer == nil {
		return
	}
	if cfg.DeploymentMode == ModeStandalone && !snap.IsLocalOldest() {
		p.fencer.Fence("deployment mode is STANDALONE and this node is not the primary")
		return
	}
	p.fencer.Unfence()
}

// Current returns the config seen by the last resync, nil before the first
func (p *ConfigParticipant) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Clone()
}
