package node

import (
	"context"

	"github.com/dd0wney/cluso-controlplane/pkg/health"
)

func (n *Node) buildHealth() {
	n.Health = health.NewChecker(n.Config.Cluster.PresenceTimeout)

	n.Health.Register("store", health.Readiness, health.StoreCheck(n.ping))
	n.Health.Register("fencing", health.Readiness, health.FencingCheck(func() (bool, string) {
		return n.Fence.Fenced(), n.Fence.Reason()
	}))
	n.Health.Register("quorum", health.Informational, health.QuorumCheck(n.quorumState))
	n.Health.Register("membership", health.Liveness, health.MembershipCheck(func() (int, bool) {
		snap := n.Membership.Snapshot()
		return snap.Size(), snap.IsLocalOldest()
	}))
}

func (n *Node) quorumState(ctx context.Context) (string, int, int, bool, error) {
	cfg, err := n.Coordinator.Config(ctx)
	if err != nil {
		return "", 0, 0, false, err
	}
	members := n.Membership.Snapshot().Size()
	return string(cfg.DeploymentMode), cfg.Quorum, members, members >= cfg.Quorum, nil
}
