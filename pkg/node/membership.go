package node

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/membership"
)

// buildMembership selects the provider. Clients always use the static peer
// list: joining gossip would make them count as members.
func (n *Node) buildMembership(override membership.Provider) error {
	cfg := n.Config
	local := membership.Member{
		ID:       cfg.Node.ID,
		Addr:     cfg.Node.ResyncAddr,
		JoinedAt: n.started.UTC(),
	}

	switch {
	case override != nil:
		n.Membership = override

	case cfg.Membership.Provider == "gossip" && n.Role == RoleDaemon:
		gossip, err := membership.NewGossipProvider(membership.GossipConfig{
			BindAddr: cfg.Membership.BindAddr,
			BindPort: uint16(cfg.Membership.BindPort),
		}, local, n.Levels.Logger("membership"))
		if err != nil {
			return err
		}
		n.gossip = gossip
		n.Membership = gossip

	default:
		// Static members share a zero join time so the oldest member is
		// the lowest id on every node.
		local.JoinedAt = time.Time{}
		var peers []membership.Member
		for _, p := range cfg.Membership.Peers {
			if p.ID == cfg.Node.ID {
				local.Addr = p.Addr
				continue
			}
			peers = append(peers, membership.Member{ID: p.ID, Addr: p.Addr})
		}
		n.Membership = membership.NewStaticProvider(local, peers...)
	}

	n.Elector = membership.NewElector(n.Membership)
	return nil
}

// broadcastView is the membership resync hints are sent to. A daemon skips
// itself; a client is not a member, so every configured peer is a target.
func (n *Node) broadcastView() membership.Provider {
	if n.Role == RoleDaemon {
		return n.Membership
	}
	members := n.Membership.Snapshot().Members()
	return membership.NewStaticProvider(membership.Member{ID: ClientID}, members...)
}

// joinGossip contacts the configured seeds until one answers
func (n *Node) joinGossip() error {
	if n.gossip == nil || len(n.Config.Membership.Join) == 0 {
		return nil
	}
	var lastErr error
	for _, addr := range n.Config.Membership.Join {
		if err := n.gossip.Join(addr); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to join gossip through %v: %w", n.Config.Membership.Join, lastErr)
}
