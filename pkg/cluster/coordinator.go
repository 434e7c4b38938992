package cluster

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/membership"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// Broadcaster fans a resync hint out to the other members
type Broadcaster interface {
	Broadcast(ctx context.Context, participant, objectID string)
}

// CoordinatorOptions wires a QuorumCoordinator
type CoordinatorOptions struct {
	Repository  Repository
	Membership  membership.Provider
	Broadcaster Broadcaster    // optional; nil disables propagation
	Presence    QuorumPresence // defaults to MembershipPresence
	Fencer      Fencer         // defaults to a new FenceState
	// Operator marks a coordinator driven by an admin tool rather than a
	// member. Its proposals are not refused while the fencer is fenced.
	Operator bool
	Metrics  *metrics.Registry
	Logger   logging.Logger
}

// QuorumCoordinator is the only writer of the cluster config
type QuorumCoordinator struct {
	repo        Repository
	members     membership.Provider
	broadcaster Broadcaster
	presence    QuorumPresence
	fencer      Fencer
	participant *ConfigParticipant
	operator    bool
	metrics     *metrics.Registry
	logger      logging.Logger

	// serializes read-modify-write cycles issued by this node
	mu sync.Mutex
}

// NewQuorumCoordinator creates a coordinator
func NewQuorumCoordinator(opts CoordinatorOptions) (*QuorumCoordinator, error) {
	if opts.Repository == nil {
		return nil, ErrMissingRepository
	}
	if opts.Membership == nil {
		return nil, ErrMissingMembership
	}

	logger := logging.OrNop(opts.Logger).With(logging.Component("cluster"))
	if opts.Presence == nil {
		opts.Presence = MembershipPresence{Repository: opts.Repository, Membership: opts.Membership}
	}
	if opts.Fencer == nil {
		opts.Fencer = NewFenceState(opts.Metrics, logger)
	}

	return &QuorumCoordinator{
		repo:        opts.Repository,
		members:     opts.Membership,
		broadcaster: opts.Broadcaster,
		presence:    opts.Presence,
		fencer:      opts.Fencer,
		participant: NewConfigParticipant(opts.Repository, opts.Membership, opts.Fencer, opts.Metrics, logger),
		operator:    opts.Operator,
		metrics:     opts.Metrics,
		logger:      logger,
	}, nil
}

// Participant returns the cluster-config resync participant
func (c *QuorumCoordinator) Participant() *ConfigParticipant {
	return c.participant
}

// Fencer returns the fencer the coordinator applies
func (c *QuorumCoordinator) Fencer() Fencer {
	return c.fencer
}

// Config returns the persisted config
func (c *QuorumCoordinator) Config(ctx context.Context) (*Config, error) {
	return c.repo.Load(ctx)
}

// RequiredQuorum is the minimum quorum for a membership of size members under
// the persisted deployment mode
func (c *QuorumCoordinator) RequiredQuorum(ctx context.Context, size int) (int, error) {
	cfg, err := c.repo.Load(ctx)
	if err != nil {
		return 0, err
	}
	return RequiredQuorum(cfg.DeploymentMode, size), nil
}

// ProposeQuorum validates and persists a new quorum, then propagates it
func (c *QuorumCoordinator) ProposeQuorum(ctx context.Context, candidate int) (*Config, error) {
	const op = "propose quorum"

	if c.refused() {
		c.recordProposal("quorum", "fenced")
		return nil, controlerr.Precondition(op, ErrFenced)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := c.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	size := c.members.Snapshot().Size()
	required := RequiredQuorum(cfg.DeploymentMode, size)

	switch {
	case candidate < required:
		c.recordProposal("quorum", "rejected")
		return nil, controlerr.Precondition(op,
			fmt.Errorf("%w: %d < %d for %d members", ErrQuorumTooLow, candidate, required, size))
	case cfg.DeploymentMode == ModeCluster && candidate < 2,
		cfg.DeploymentMode == ModeStandalone && candidate != 1:
		c.recordProposal("quorum", "rejected")
		return nil, controlerr.Validation(op,
			fmt.Errorf("%w: quorum %d in %s", ErrInvalidForDeploymentMode, candidate, cfg.DeploymentMode))
	case candidate == cfg.Quorum:
		c.recordProposal("quorum", "unchanged")
		return nil, controlerr.Precondition(op, fmt.Errorf("%w: %d", ErrQuorumUnchanged, candidate))
	}

	previous := cfg.Quorum
	cfg.Quorum = candidate
	if err := c.commit(ctx, op, cfg); err != nil {
		return nil, err
	}

	c.recordProposal("quorum", "applied")
	c.logger.Info("Quorum changed", logging.Int("from", previous), logging.Int("to", candidate))
	return cfg, nil
}

// ProposeDeploymentMode switches between STANDALONE and CLUSTER. Going to
// STANDALONE forces quorum 1 and fences every node but the oldest member.
func (c *QuorumCoordinator) ProposeDeploymentMode(ctx context.Context, mode DeploymentMode) (*Config, error) {
	const op = "propose deployment mode"

	if !mode.Valid() {
		return nil, controlerr.Validation(op, fmt.Errorf("%w: %q", ErrInvalidDeploymentMode, mode))
	}
	if c.refused() {
		c.recordProposal("mode", "fenced")
		return nil, controlerr.Precondition(op, ErrFenced)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := c.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.DeploymentMode == mode {
		c.recordProposal("mode", "unchanged")
		return nil, controlerr.Precondition(op, fmt.Errorf("%w: %s", ErrAlreadyInState, mode))
	}

	previous := cfg.DeploymentMode
	cfg.DeploymentMode = mode
	switch mode {
	case ModeStandalone:
		cfg.Quorum = 1
	case ModeCluster:
		size := c.members.Snapshot().Size()
		cfg.Quorum = max(cfg.Quorum, 2, RequiredQuorum(ModeCluster, size))
	}

	if err := c.commit(ctx, op, cfg); err != nil {
		return nil, err
	}

	c.recordProposal("mode", "applied")
	c.logger.Info("Deployment mode changed",
		logging.String("from", string(previous)),
		logging.String("to", string(mode)),
		logging.Int("quorum", cfg.Quorum),
	)
	return cfg, nil
}

// OnMembershipChanged lets the oldest member raise quorum after a join. It
// does nothing on other nodes, outside CLUSTER mode, while fenced, or while
// the node does not see quorum. Quorum is never lowered here. A fenced node
// that has become the oldest member in STANDALONE is unfenced.
func (c *QuorumCoordinator) OnMembershipChanged(ctx context.Context, snap membership.Snapshot) error {
	const op = "membership changed"

	if c.fencer.Fenced() {
		// The departure of the primary may make this node the oldest member,
		// so fencing is re-evaluated against the new view first.
		if err := c.resyncLocal(ctx); err != nil {
			return err
		}
		if c.fencer.Fenced() {
			c.recordProposal("membership", "skipped")
			return nil
		}
	}
	if !snap.IsLocalOldest() {
		// Not ours to decide, but keep local metrics and fencing current.
		return c.resyncLocal(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := c.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cfg.DeploymentMode != ModeCluster || !c.presence.Present(ctx) {
		c.recordProposal("membership", "skipped")
		return nil
	}

	required := RequiredQuorum(ModeCluster, snap.Size())
	members := sortedMembers(snap.IDs())

	raised := required > cfg.Quorum
	if !raised && slices.Equal(members, cfg.Members) {
		c.recordProposal("membership", "unchanged")
		return nil
	}

	previous := cfg.Quorum
	if raised {
		cfg.Quorum = required
	}
	cfg.Members = members
	if err := c.commit(ctx, op, cfg); err != nil {
		return err
	}

	if raised {
		c.recordProposal("membership", "raised")
		c.logger.Info("Quorum raised after membership change",
			logging.Int("members", snap.Size()),
			logging.Int("from", previous),
			logging.Int("to", cfg.Quorum),
		)
	} else {
		c.recordProposal("membership", "members_updated")
	}
	return nil
}

// Watch subscribes the coordinator to membership changes until ctx is done
func (c *QuorumCoordinator) Watch(ctx context.Context) {
	unsubscribe := c.members.Subscribe(func(snap membership.Snapshot) {
		if err := c.OnMembershipChanged(ctx, snap); err != nil {
			c.logger.Error("Failed to handle membership change", logging.Error(err))
		}
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// commit persists cfg, applies it locally and broadcasts the change
func (c *QuorumCoordinator) commit(ctx context.Context, op string, cfg *Config) error {
	if err := c.repo.Save(ctx, cfg); err != nil {
		return fmt.Errorf("%s: failed to save cluster config: %w", op, err)
	}
	if err := c.resyncLocal(ctx); err != nil {
		c.logger.Warn("Local resync after config change failed", logging.Error(err))
	}
	if c.broadcaster != nil {
		c.broadcaster.Broadcast(ctx, ParticipantName, cfg.ID)
	}
	return nil
}

// refused reports whether proposals must fail with ErrFenced
func (c *QuorumCoordinator) refused() bool {
	return !c.operator && c.fencer.Fenced()
}

func (c *QuorumCoordinator) resyncLocal(ctx context.Context) error {
	return c.participant.Resync(ctx, "")
}

func (c *QuorumCoordinator) recordProposal(kind, result string) {
	if c.metrics != nil {
		c.metrics.RecordProposal(kind, result)
	}
}
