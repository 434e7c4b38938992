package node

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-controlplane/pkg/config"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
	"github.com/dd0wney/cluso-controlplane/pkg/server"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

// nodeMetricsInterval is how often uptime and leadership gauges refresh
const nodeMetricsInterval = 15 * time.Second

// Run serves this member until ctx ends: the resync listener, gossip, the
// membership watch, the stale sweeper, restored schedules and the
// operations endpoint
func (n *Node) Run(ctx context.Context) error {
	if n.Role != RoleDaemon {
		return ErrNotDaemon
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return n.Listener.Serve(ctx, n.Transport, n.Config.Node.ResyncAddr)
	})

	if err := n.joinGossip(); err != nil {
		n.Logger.Warn("Starting without gossip peers", logging.Error(err))
	}

	n.Coordinator.Watch(ctx)
	if err := n.Coordinator.OnMembershipChanged(ctx, n.Membership.Snapshot()); err != nil {
		n.Logger.Warn("Initial membership check failed", logging.Error(err))
	}

	if n.Config.Scheduler.Enabled {
		restored, err := n.Scheduler.Restore(ctx)
		if err != nil {
			return err
		}
		n.Logger.Info("Schedules restored", logging.Count(restored))
	}

	sweeper := task.NewSweeper(n.Tasks, n.Config.Tasks.SweepInterval, n.Config.Tasks.StaleThreshold,
		n.coordinates, n.Levels.Logger("sweeper"))
	g.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(nodeMetricsInterval)
		defer ticker.Stop()
		for {
			n.Metrics.UpdateNodeMetrics(metrics.NodeStatus{
				Started:      n.started,
				Leader:       n.Elector.IsLeader(),
				Coordinating: n.coordinates(),
			})
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	if n.Config.Metrics.Addr != "" {
		ops := server.NewGracefulServer(n.Config.Metrics.Addr, server.OpsMux(n.Metrics, n.Health), n.Logger)
		g.Go(func() error { return ops.Serve(ctx) })
	}

	n.Logger.Info("Control plane node running",
		logging.String("role", "daemon"),
		logging.String("resync_addr", n.Config.Node.ResyncAddr),
		logging.Int("members", n.Membership.Snapshot().Size()),
	)
	return g.Wait()
}

// Reload re-applies the runtime-tunable part of cfg: the root log level.
// Components with a stored override keep it.
func (n *Node) Reload(ctx context.Context, cfg *config.Config) error {
	level, err := logging.ParseLevelStrict(cfg.LogLevel)
	if err != nil {
		return err
	}
	overrides, err := n.LoggerLevels.Overrides(ctx)
	if err != nil {
		return err
	}

	n.root.SetLevel(level)
	for _, component := range n.Levels.Components() {
		if _, ok := overrides[component]; !ok {
			n.Levels.Reset(component)
		}
	}
	n.Logger.Info("Root log level changed", logging.String("level", level.String()))
	return nil
}
