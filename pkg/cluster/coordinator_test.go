package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/membership"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func member(id string, offset time.Duration) membership.Member {
	return membership.Member{ID: id, Addr: "mem://" + id, JoinedAt: t0.Add(offset)}
}

// loopback delivers every broadcast to the config participants of a set of
// in-process nodes, standing in for the resync transport
type loopback struct {
	mu    sync.Mutex
	nodes []*QuorumCoordinator
	sent  []string
}

func (l *loopback) Broadcast(ctx context.Context, participant, objectID string) {
	l.mu.Lock()
	l.sent = append(l.sent, participant+"/"+objectID)
	nodes := append([]*QuorumCoordinator{}, l.nodes...)
	l.mu.Unlock()

	for _, n := range nodes {
		_ = n.Participant().Resync(ctx, objectID)
	}
}

func (l *loopback) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

type testCluster struct {
	repo      *MemoryRepository
	providers map[string]*membership.StaticProvider
	nodes     map[string]*QuorumCoordinator
	bus       *loopback
}

// newTestCluster starts one coordinator per id sharing a store; ids join in order
func newTestCluster(t *testing.T, mode DeploymentMode, quorum int, ids ...string) *testCluster {
	t.Helper()
	ctx := context.Background()

	tc := &testCluster{
		repo:      NewMemoryRepository(),
		providers: make(map[string]*membership.StaticProvider),
		nodes:     make(map[string]*QuorumCoordinator),
		bus:       &loopback{},
	}

	members := make([]membership.Member, len(ids))
	for i, id := range ids {
		members[i] = member(id, time.Duration(i)*time.Minute)
	}

	_, err := EnsureConfig(ctx, tc.repo, Bootstrap{
		ClusterName:    "test",
		DeploymentMode: mode,
		Quorum:         quorum,
		Members:        ids,
	})
	require.NoError(t, err)

	for i, id := range ids {
		peers := append(append([]membership.Member{}, members[:i]...), members[i+1:]...)
		p := membership.NewStaticProvider(members[i], peers...)
		c, err := NewQuorumCoordinator(CoordinatorOptions{
			Repository:  tc.repo,
			Membership:  p,
			Broadcaster: tc.bus,
		})
		require.NoError(t, err)
		require.NoError(t, c.Participant().Resync(ctx, ""))

		tc.providers[id] = p
		tc.nodes[id] = c
		tc.bus.nodes = append(tc.bus.nodes, c)
	}
	return tc
}

func (tc *testCluster) join(t *testing.T, m membership.Member) {
	t.Helper()
	for _, p := range tc.providers {
		require.NoError(t, p.Join(m))
	}
}

func TestRequiredQuorumProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("cluster quorum is a strict majority", prop.ForAll(
		func(n int) bool {
			return RequiredQuorum(ModeCluster, n) == n/2+1
		},
		gen.IntRange(0, 10_000),
	))

	properties.Property("standalone quorum is always one", prop.ForAll(
		func(n int) bool {
			return RequiredQuorum(ModeStandalone, n) == 1
		},
		gen.IntRange(0, 10_000),
	))

	properties.TestingRun(t)
}

func TestProposeQuorumRejectsBelowRequired(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("proposals below the required quorum fail QuorumTooLow", prop.ForAll(
		func(n, q int) bool {
			ids := make([]string, n)
			for i := range ids {
				ids[i] = string(rune('a' + i))
			}
			tc := newTestCluster(t, ModeCluster, 2, ids...)
			coord := tc.nodes[ids[0]]

			required := RequiredQuorum(ModeCluster, n)
			_, err := coord.ProposeQuorum(context.Background(), q)
			if q < required {
				return errors.Is(err, ErrQuorumTooLow) && errors.Is(err, controlerr.ErrPreconditionFailed)
			}
			return !errors.Is(err, ErrQuorumTooLow)
		},
		gen.IntRange(1, 9),
		gen.IntRange(-2, 12),
	))

	properties.TestingRun(t)
}

func TestProposeQuorum(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, ModeCluster, 2, "a", "b", "c")
	coord := tc.nodes["a"]

	cfg, err := coord.ProposeQuorum(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Quorum)
	assert.Equal(t, int64(2), cfg.Version)
	assert.Equal(t, 1, tc.bus.count())

	// Every peer converged through the broadcast
	for _, id := range []string{"b", "c"} {
		assert.Equal(t, 3, tc.nodes[id].Participant().Current().Quorum)
	}

	_, err = coord.ProposeQuorum(ctx, 3)
	assert.ErrorIs(t, err, ErrQuorumUnchanged)
	assert.ErrorIs(t, err, controlerr.ErrPreconditionFailed)
	assert.Equal(t, 1, tc.bus.count(), "no broadcast for a rejected proposal")
}

func TestProposeQuorumInvalidForDeploymentMode(t *testing.T) {
	ctx := context.Background()

	tc := newTestCluster(t, ModeCluster, 2, "a")
	_, err := tc.nodes["a"].ProposeQuorum(ctx, 1)
	assert.ErrorIs(t, err, ErrInvalidForDeploymentMode)

	standalone := newTestCluster(t, ModeStandalone, 1, "a", "b", "c")
	_, err = standalone.nodes["a"].ProposeQuorum(ctx, 2)
	assert.ErrorIs(t, err, ErrInvalidForDeploymentMode)
	_, err = standalone.nodes["a"].ProposeQuorum(ctx, 1)
	assert.ErrorIs(t, err, ErrQuorumUnchanged)
}

func TestProposeDeploymentModeAlreadyInState(t *testing.T) {
	tc := newTestCluster(t, ModeCluster, 2, "a", "b", "c")

	_, err := tc.nodes["a"].ProposeDeploymentMode(context.Background(), ModeCluster)
	assert.ErrorIs(t, err, ErrAlreadyInState)
	assert.ErrorIs(t, err, controlerr.ErrPreconditionFailed)

	_, err = tc.nodes["a"].ProposeDeploymentMode(context.Background(), "HYBRID")
	assert.ErrorIs(t, err, ErrInvalidDeploymentMode)
	assert.ErrorIs(t, err, controlerr.ErrValidation)
}

func TestDowngradeToStandaloneFencesNonPrimaries(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, ModeCluster, 2, "a", "b", "c")

	cfg, err := tc.nodes["a"].ProposeDeploymentMode(ctx, ModeStandalone)
	require.NoError(t, err)
	assert.Equal(t, ModeStandalone, cfg.DeploymentMode)
	assert.Equal(t, 1, cfg.Quorum)

	assert.False(t, tc.nodes["a"].Fencer().Fenced(), "the oldest member stays primary")
	assert.True(t, tc.nodes["b"].Fencer().Fenced())
	assert.True(t, tc.nodes["c"].Fencer().Fenced())

	// A fenced node refuses coordination work
	_, err = tc.nodes["b"].ProposeDeploymentMode(ctx, ModeCluster)
	assert.ErrorIs(t, err, ErrFenced)

	// Back to CLUSTER lifts the fence and restores a majority quorum
	cfg, err = tc.nodes["a"].ProposeDeploymentMode(ctx, ModeCluster)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Quorum)
	assert.False(t, tc.nodes["b"].Fencer().Fenced())
	assert.False(t, tc.nodes["c"].Fencer().Fenced())
}

func TestDowngradeProposedByNonPrimaryFencesItself(t *testing.T) {
	tc := newTestCluster(t, ModeCluster, 2, "a", "b")

	_, err := tc.nodes["b"].ProposeDeploymentMode(context.Background(), ModeStandalone)
	require.NoError(t, err)
	assert.True(t, tc.nodes["b"].Fencer().Fenced())
	assert.False(t, tc.nodes["a"].Fencer().Fenced())
}

func TestFourthMemberJoinRaisesQuorum(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, ModeCluster, 2, "a", "b", "c")
	for _, c := range tc.nodes {
		c.Watch(ctx)
	}

	tc.join(t, member("d", time.Hour))

	cfg, err := tc.repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Quorum)
	assert.Equal(t, []string{"a", "b", "c", "d"}, cfg.Members)
	assert.Equal(t, 1, tc.bus.count(), "only the oldest member writes and broadcasts")

	for id, c := range tc.nodes {
		assert.Equal(t, 3, c.Participant().Current().Quorum, "node %s", id)
	}
}

func TestMembershipChangeNeverLowersQuorum(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, ModeCluster, 3, "a", "b", "c", "d")

	require.NoError(t, tc.providers["a"].Leave("d"))
	require.NoError(t, tc.nodes["a"].OnMembershipChanged(ctx, tc.providers["a"].Snapshot()))

	cfg, err := tc.repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Quorum)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Members)
}

func TestMembershipChangeGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("not oldest", func(t *testing.T) {
		tc := newTestCluster(t, ModeCluster, 2, "a", "b", "c")
		require.NoError(t, tc.providers["b"].Join(member("d", time.Hour)))
		require.NoError(t, tc.nodes["b"].OnMembershipChanged(ctx, tc.providers["b"].Snapshot()))

		cfg, _ := tc.repo.Load(ctx)
		assert.Equal(t, 2, cfg.Quorum)
	})

	t.Run("standalone", func(t *testing.T) {
		tc := newTestCluster(t, ModeStandalone, 1, "a", "b", "c")
		require.NoError(t, tc.providers["a"].Join(member("d", time.Hour)))
		require.NoError(t, tc.nodes["a"].OnMembershipChanged(ctx, tc.providers["a"].Snapshot()))

		cfg, _ := tc.repo.Load(ctx)
		assert.Equal(t, 1, cfg.Quorum)
	})

	t.Run("quorum not present", func(t *testing.T) {
		repo := NewMemoryRepository()
		_, err := EnsureConfig(ctx, repo, Bootstrap{ClusterName: "test", DeploymentMode: ModeCluster, Quorum: 2, Members: []string{"a", "b", "c"}})
		require.NoError(t, err)

		p := membership.NewStaticProvider(member("a", 0), member("b", time.Minute), member("c", 2*time.Minute))
		coord, err := NewQuorumCoordinator(CoordinatorOptions{
			Repository: repo,
			Membership: p,
			Presence:   NewStaticPresence(false),
		})
		require.NoError(t, err)

		require.NoError(t, p.Join(member("d", time.Hour)))
		require.NoError(t, coord.OnMembershipChanged(ctx, p.Snapshot()))

		cfg, _ := repo.Load(ctx)
		assert.Equal(t, 2, cfg.Quorum)
	})
}

func TestOldestMemberLostNextOldestTakesOver(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, ModeCluster, 2, "a", "b", "c")

	// "a" disappears from b's view, then two new members join
	require.NoError(t, tc.providers["b"].Leave("a"))
	require.NoError(t, tc.providers["b"].Join(member("d", time.Hour)))
	require.NoError(t, tc.providers["b"].Join(member("e", 2*time.Hour)))
	require.NoError(t, tc.nodes["b"].OnMembershipChanged(ctx, tc.providers["b"].Snapshot()))

	cfg, err := tc.repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Quorum)
}

func TestStandalonePrimaryLostNextOldestUnfences(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, ModeCluster, 2, "a", "b", "c")

	_, err := tc.nodes["a"].ProposeDeploymentMode(ctx, ModeStandalone)
	require.NoError(t, err)
	require.True(t, tc.nodes["b"].Fencer().Fenced())
	require.True(t, tc.nodes["c"].Fencer().Fenced())

	for _, id := range []string{"b", "c"} {
		require.NoError(t, tc.providers[id].Leave("a"))
		require.NoError(t, tc.nodes[id].OnMembershipChanged(ctx, tc.providers[id].Snapshot()))
	}

	assert.False(t, tc.nodes["b"].Fencer().Fenced(), "b is now the oldest member")
	assert.True(t, tc.nodes["c"].Fencer().Fenced())

	cfg, err := tc.nodes["b"].ProposeDeploymentMode(ctx, ModeCluster)
	require.NoError(t, err)
	assert.Equal(t, ModeCluster, cfg.DeploymentMode)
	assert.False(t, tc.nodes["c"].Fencer().Fenced())
}

func TestOperatorCoordinatorIgnoresFence(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, ModeStandalone, 1, "a", "b")

	fence := NewFenceState(nil, nil)
	admin, err := NewQuorumCoordinator(CoordinatorOptions{
		Repository:  tc.repo,
		Membership:  tc.providers["b"],
		Broadcaster: tc.bus,
		Fencer:      fence,
		Operator:    true,
	})
	require.NoError(t, err)
	require.NoError(t, admin.Participant().Resync(ctx, ""))
	require.True(t, fence.Fenced())

	cfg, err := admin.ProposeDeploymentMode(ctx, ModeCluster)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Quorum)
	assert.False(t, tc.nodes["b"].Fencer().Fenced())

	_, err = tc.nodes["b"].ProposeDeploymentMode(ctx, ModeStandalone)
	require.NoError(t, err)
	_, err = tc.nodes["b"].ProposeQuorum(ctx, 1)
	assert.ErrorIs(t, err, ErrFenced, "members stay bound by the fence")
}

func TestConfigParticipantResyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, ModeStandalone, 1, "a", "b")
	p := tc.nodes["b"].Participant()

	require.NoError(t, p.Resync(ctx, ""))
	first := p.Current()
	fenced := tc.nodes["b"].Fencer().Fenced()

	require.NoError(t, p.Resync(ctx, first.ID))
	assert.Equal(t, first, p.Current())
	assert.Equal(t, fenced, tc.nodes["b"].Fencer().Fenced())
	assert.True(t, fenced)
}

func TestConfigParticipantMissingConfig(t *testing.T) {
	p := NewConfigParticipant(NewMemoryRepository(), membership.NewStaticProvider(member("a", 0)), nil, nil, nil)
	err := p.Resync(context.Background(), "")
	assert.ErrorIs(t, err, ErrConfigNotFound)
	assert.ErrorIs(t, err, controlerr.ErrNotFound)
	assert.Nil(t, p.Current())
}
