package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func member(id string, offset time.Duration) Member {
	return Member{ID: id, Addr: "mem://" + id, JoinedAt: t0.Add(offset)}
}

func TestSnapshotOrdersByJoinTime(t *testing.T) {
	snap := NewSnapshot("node-b", []Member{
		member("node-c", 2*time.Minute),
		member("node-a", 0),
		member("node-b", time.Minute),
	})

	assert.Equal(t, []string{"node-a", "node-b", "node-c"}, snap.IDs())
	assert.True(t, snap.IsOldest("node-a"))
	assert.False(t, snap.IsLocalOldest())
	assert.Equal(t, 3, snap.Size())

	oldest, ok := snap.Oldest()
	require.True(t, ok)
	assert.Equal(t, "node-a", oldest.ID)
}

func TestSnapshotBreaksTiesByID(t *testing.T) {
	snap := NewSnapshot("x", []Member{member("node-2", 0), member("node-1", 0)})
	assert.Equal(t, []string{"node-1", "node-2"}, snap.IDs())
}

func TestSnapshotPeersExcludeLocal(t *testing.T) {
	snap := NewSnapshot("node-a", []Member{member("node-a", 0), member("node-b", time.Second)})

	peers := snap.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "node-b", peers[0].ID)
	assert.True(t, snap.IsLocal("node-a"))
	assert.True(t, snap.Contains("node-b"))
	assert.False(t, snap.Contains("node-z"))
}

func TestEmptySnapshot(t *testing.T) {
	snap := NewSnapshot("node-a", nil)
	_, ok := snap.Oldest()
	assert.False(t, ok)
	assert.False(t, snap.IsLocalOldest())
}

func TestSnapshotIsImmutable(t *testing.T) {
	snap := NewSnapshot("node-a", []Member{member("node-a", 0)})
	members := snap.Members()
	members[0].ID = "mutated"
	assert.Equal(t, "node-a", snap.IDs()[0])
}

func TestStaticProviderJoinLeaveNotifies(t *testing.T) {
	p := NewStaticProvider(member("node-a", 0), member("node-b", time.Second))

	var seen []int
	unsubscribe := p.Subscribe(func(s Snapshot) { seen = append(seen, s.Size()) })

	require.NoError(t, p.Join(member("node-c", 2*time.Second)))
	assert.ErrorIs(t, p.Join(member("node-c", 0)), ErrMemberAlreadyExists)
	require.NoError(t, p.Leave("node-b"))
	assert.ErrorIs(t, p.Leave("node-b"), ErrMemberNotFound)
	assert.ErrorIs(t, p.Leave("node-a"), ErrCannotRemoveLocal)

	unsubscribe()
	require.NoError(t, p.Join(member("node-d", 3*time.Second)))

	assert.Equal(t, []int{3, 2}, seen)
	assert.Equal(t, "node-a", p.LocalID())
}

func TestElectorFollowsOldestMember(t *testing.T) {
	local := member("node-b", time.Minute)
	p := NewStaticProvider(local, member("node-a", 0))
	e := NewElector(p)

	assert.False(t, e.IsLeader())

	// Oldest member lost: the next-oldest survivor takes over.
	require.NoError(t, p.Leave("node-a"))
	assert.True(t, e.IsLeader())
}
