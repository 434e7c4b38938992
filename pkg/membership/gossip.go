package membership

import (
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/Mathew-Estafanous/memlist"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
)

// NodeMeta is gossiped with every member so peers learn each other's resync
// address and join time.
type NodeMeta struct {
	ID       string
	Addr     string
	JoinedAt time.Time
}

// GossipConfig configures the memlist-backed provider
type GossipConfig struct {
	BindAddr string
	BindPort uint16
}

// GossipProvider discovers members through memlist gossip and failure
// detection. Members appear on Alive events and disappear on Left/Dead.
type GossipProvider struct {
	local  Member
	member *memlist.Member
	logger logging.Logger

	mu    sync.RWMutex
	peers map[string]Member
	subs  listeners
}

// NewGossipProvider starts a memlist member advertising local
func NewGossipProvider(cfg GossipConfig, local Member, logger logging.Logger) (*GossipProvider, error) {
	gob.Register(NodeMeta{})

	p := &GossipProvider{
		local:  local,
		logger: logging.OrNop(logger).With(logging.Component("membership")),
		peers:  make(map[string]Member),
	}

	config := memlist.DefaultLocalConfig()
	config.Name = local.ID
	config.BindAddr = cfg.BindAddr
	config.BindPort = cfg.BindPort
	config.EventListener = p
	config.MetaData = NodeMeta{ID: local.ID, Addr: local.Addr, JoinedAt: local.JoinedAt}

	member, err := memlist.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create gossip member: %w", err)
	}
	p.member = member

	return p, nil
}

// OnMembershipChange implements memlist.EventListener
func (p *GossipProvider) OnMembershipChange(peer memlist.Node) {
	meta, ok := peer.Data.(NodeMeta)
	if !ok {
		p.logger.Warn("Ignoring gossip member without node metadata", logging.Any("data", peer.Data))
		return
	}
	if meta.ID == p.local.ID {
		return
	}

	changed := false
	p.mu.Lock()
	switch peer.State {
	case memlist.Alive:
		if _, exists := p.peers[meta.ID]; !exists {
			p.peers[meta.ID] = Member{ID: meta.ID, Addr: meta.Addr, JoinedAt: meta.JoinedAt}
			changed = true
		}
	case memlist.Left, memlist.Dead:
		if _, exists := p.peers[meta.ID]; exists {
			delete(p.peers, meta.ID)
			changed = true
		}
	}
	p.mu.Unlock()

	if changed {
		snap := p.Snapshot()
		p.logger.Info("Membership changed",
			logging.NodeID(meta.ID),
			logging.Int("members", snap.Size()),
		)
		p.subs.notify(snap)
	}
}

// LocalID returns the local node id
func (p *GossipProvider) LocalID() string {
	return p.local.ID
}

// Snapshot returns the current ordered membership including the local node
func (p *GossipProvider) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	members := make([]Member, 0, len(p.peers)+1)
	members = append(members, p.local)
	for _, m := range p.peers {
		members = append(members, m)
	}
	return NewSnapshot(p.local.ID, members)
}

// Subscribe registers a membership listener
func (p *GossipProvider) Subscribe(l Listener) func() {
	return p.subs.add(l)
}

// Join contacts an existing member to enter the cluster
func (p *GossipProvider) Join(addr string) error {
	if err := p.member.Join(addr); err != nil {
		return fmt.Errorf("failed to join %s: %w", addr, err)
	}
	return nil
}

// Leave announces departure and waits up to timeout for it to propagate
func (p *GossipProvider) Leave(timeout time.Duration) error {
	return p.member.Leave(timeout)
}
