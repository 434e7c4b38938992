package resync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/membership"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// countingParticipant records every resync it receives
type countingParticipant struct {
	name string
	fail error

	mu   sync.Mutex
	seen []string
}

func (p *countingParticipant) Name() string { return p.name }

func (p *countingParticipant) Resync(_ context.Context, objectID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, objectID)
	return p.fail
}

func (p *countingParticipant) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	plugins := &countingParticipant{name: "plugins"}
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Register(plugins))
	assert.ErrorIs(t, reg.Register(&countingParticipant{name: "plugins"}), ErrDuplicateParticipant)

	require.NoError(t, reg.Dispatch(ctx, "plugins", "p-1"))
	assert.Equal(t, []string{"p-1"}, plugins.calls())

	err := reg.Dispatch(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrUnknownParticipant)
	assert.ErrorIs(t, err, controlerr.ErrNotFound)
}

func TestRegistryResyncAllIsolatesFailures(t *testing.T) {
	broken := &countingParticipant{name: "a-broken", fail: errors.New("store down")}
	healthy := &countingParticipant{name: "b-healthy"}
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Register(broken, healthy))

	err := reg.ResyncAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a-broken")
	assert.Equal(t, []string{All}, healthy.calls(), "healthy participant still resynced")
	assert.Equal(t, []string{"a-broken", "b-healthy"}, reg.Names())
}

func TestSignerRoundTrip(t *testing.T) {
	s, err := NewSigner("prod", "secret-token")
	require.NoError(t, err)

	msg := Message{Participant: "plugins", ObjectID: "p-1", Origin: "node-a", SentAt: time.Now()}
	require.NoError(t, s.Sign(&msg))
	require.NoError(t, s.Verify(msg))

	t.Run("tampered object id", func(t *testing.T) {
		tampered := msg
		tampered.ObjectID = "p-2"
		assert.ErrorIs(t, s.Verify(tampered), ErrInvalidToken)
	})

	t.Run("other cluster", func(t *testing.T) {
		other, err := NewSigner("prod", "different-token")
		require.NoError(t, err)
		assert.ErrorIs(t, other.Verify(msg), ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		late, err := NewSigner("prod", "secret-token")
		require.NoError(t, err)
		late.now = func() time.Time { return time.Now().Add(time.Hour) }
		assert.ErrorIs(t, late.Verify(msg), ErrInvalidToken)
	})

	t.Run("missing token", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify(Message{Participant: "plugins"}), ErrInvalidToken)
	})

	_, err = NewSigner("prod", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeMessage(t *testing.T) {
	_, err := DecodeMessage([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = DecodeMessage([]byte(`{"object_id":"x"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

type testNode struct {
	id       string
	provider *membership.StaticProvider
	registry *Registry
	plugins  *countingParticipant
	bcast    *Broadcaster
}

// startNodes wires n nodes on one in-memory network, all serving resync
func startNodes(t *testing.T, ctx context.Context, network *MemoryNetwork, signer *Signer, n int) []*testNode {
	t.Helper()

	members := make([]membership.Member, n)
	for i := range members {
		id := fmt.Sprintf("node-%d", i)
		members[i] = membership.Member{ID: id, Addr: "mem://" + id, JoinedAt: time.Unix(int64(i), 0)}
	}

	nodes := make([]*testNode, n)
	for i, m := range members {
		peers := append(append([]membership.Member{}, members[:i]...), members[i+1:]...)
		node := &testNode{
			id:       m.ID,
			provider: membership.NewStaticProvider(m, peers...),
			registry: NewRegistry(nil, nil),
			plugins:  &countingParticipant{name: "plugins"},
		}
		require.NoError(t, node.registry.Register(node.plugins))
		node.bcast = NewBroadcaster(BroadcasterOptions{
			Membership: node.provider,
			Transport:  network,
			Signer:     signer,
		})

		listener := NewListener(m.ID, node.registry, signer, nil, nil)
		go func() { _ = listener.Serve(ctx, network, m.Addr) }()
		nodes[i] = node
	}

	for _, m := range members {
		require.Eventually(t, func() bool {
			_, err := network.Send(ctx, m.Addr, []byte("{}"))
			return err == nil
		}, time.Second, 5*time.Millisecond)
	}
	return nodes
}

func TestBroadcastReachesEveryPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer, err := NewSigner("prod", "secret")
	require.NoError(t, err)
	nodes := startNodes(t, ctx, NewMemoryNetwork(), signer, 3)

	report := nodes[0].bcast.BroadcastSync(ctx, "plugins", "p-1")
	assert.ElementsMatch(t, []string{"node-1", "node-2"}, report.Delivered)
	assert.Empty(t, report.Failed)

	assert.Empty(t, nodes[0].plugins.calls(), "the sender does not resync itself")
	assert.Equal(t, []string{"p-1"}, nodes[1].plugins.calls())
	assert.Equal(t, []string{"p-1"}, nodes[2].plugins.calls())
}

func TestBroadcastToPartitionedPeerIsTransient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	network := NewMemoryNetwork()
	reg := metrics.NewRegistry()
	nodes := startNodes(t, ctx, network, nil, 3)
	nodes[0].bcast.metrics = reg

	network.Partition("mem://node-2")
	report := nodes[0].bcast.BroadcastSync(ctx, "plugins", "")

	assert.Equal(t, []string{"node-1"}, report.Delivered)
	require.Contains(t, report.Failed, "node-2")
	assert.ErrorIs(t, report.Failed["node-2"], ErrPeerUnreachable)
	assert.ErrorIs(t, report.Failed["node-2"], controlerr.ErrTransientDelivery)
	assert.Empty(t, nodes[2].plugins.calls())

	// The missed peer converges on the next full resync
	network.Heal("mem://node-2")
	report = nodes[0].bcast.BroadcastSync(ctx, "plugins", All)
	assert.Len(t, report.Delivered, 2)
	assert.Equal(t, []string{All}, nodes[2].plugins.calls())
}

func TestBroadcastIsFireAndForget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes := startNodes(t, ctx, NewMemoryNetwork(), nil, 2)

	callerCtx, callerCancel := context.WithCancel(ctx)
	nodes[0].bcast.Broadcast(callerCtx, "plugins", "p-9")
	callerCancel() // the request that triggered the change has returned
	nodes[0].bcast.Wait()

	assert.Equal(t, []string{"p-9"}, nodes[1].plugins.calls())
}

func TestListenerRejectsForeignCluster(t *testing.T) {
	ctx := context.Background()
	plugins := &countingParticipant{name: "plugins"}
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Register(plugins))

	ours, _ := NewSigner("prod", "ours")
	theirs, _ := NewSigner("prod", "theirs")
	l := NewListener("node-a", reg, ours, nil, nil)

	msg := Message{Participant: "plugins", ObjectID: "p-1", Origin: "intruder"}
	require.NoError(t, theirs.Sign(&msg))
	payload, err := msg.Encode()
	require.NoError(t, err)

	reply := l.Handle(ctx, payload)
	assert.NotEqual(t, ReplyOK, string(reply))
	assert.Empty(t, plugins.calls())

	require.NoError(t, ours.Sign(&msg))
	payload, _ = msg.Encode()
	assert.Equal(t, ReplyOK, string(l.Handle(ctx, payload)))
	assert.Equal(t, []string{"p-1"}, plugins.calls())
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport("memory", TransportOptions{})
	require.NoError(t, err)
	assert.NotNil(t, tr)

	_, err = NewTransport("carrier-pigeon", TransportOptions{})
	assert.ErrorIs(t, err, ErrUnknownTransport)
	assert.Contains(t, Transports(), "mangos")
}

func TestMangosTransportRequestReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := NewMangosTransport(TransportOptions{Timeout: time.Second, PollInterval: 20 * time.Millisecond})
	addr := "inproc://resync-test"

	done := make(chan error, 1)
	go func() {
		done <- tr.Serve(ctx, addr, func(_ context.Context, req []byte) []byte {
			return append([]byte("echo:"), req...)
		})
	}()

	var reply []byte
	require.Eventually(t, func() bool {
		var err error
		reply, err = tr.Send(ctx, addr, []byte("ping"))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "echo:ping", string(reply))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
