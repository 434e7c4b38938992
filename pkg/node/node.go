// Package node assembles a control plane member from its configuration.
//
// The daemon builds a full member with New and then calls Run. The admin CLI
// and the dashboard build a client with RoleClient: they share the store and
// broadcast to every configured peer but serve nothing.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/cluster"
	"github.com/dd0wney/cluso-controlplane/pkg/config"
	"github.com/dd0wney/cluso-controlplane/pkg/health"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/membership"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
	"github.com/dd0wney/cluso-controlplane/pkg/participants"
	"github.com/dd0wney/cluso-controlplane/pkg/pubsub"
	"github.com/dd0wney/cluso-controlplane/pkg/resync"
	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
	"github.com/dd0wney/cluso-controlplane/pkg/snapshot"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

// Role selects how much of a member is assembled
type Role int

const (
	// RoleDaemon is a full member: it serves resync, sweeps and fires
	RoleDaemon Role = iota
	// RoleClient mutates the shared store and broadcasts, nothing else
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "daemon"
}

// ClientID is the origin recorded on messages broadcast by clients
const ClientID = "controlplanectl"

var (
	ErrSharedStoreRequired = errors.New("clients need a shared store (store.driver=postgres)")
	ErrNotDaemon           = errors.New("only a daemon node can run")
)

// Options customizes New
type Options struct {
	Role Role
	// Stores replaces the configured store. Tests share memory stores
	// between nodes this way.
	Stores *snapshot.Stores
	// Transport replaces the configured resync transport
	Transport resync.Transport
	// Membership replaces the configured provider
	Membership membership.Provider
	Metrics    *metrics.Registry
	Logger     *logging.JSONLogger
}

// Node is one assembled member
type Node struct {
	Config  *config.Config
	Role    Role
	Logger  logging.Logger
	Levels  *logging.LevelRegistry
	Metrics *metrics.Registry
	Stores  snapshot.Stores

	Membership  membership.Provider
	Elector     *membership.Elector
	Transport   resync.Transport
	Signer      *resync.Signer
	Broadcaster *resync.Broadcaster
	Registry    *resync.Registry
	Listener    *resync.Listener

	Coordinator *cluster.QuorumCoordinator
	Fence       *cluster.FenceState
	Tasks       *task.Manager
	Dispatcher  *task.Dispatcher
	Events      *task.BusNotifier
	Scheduler   *scheduler.Scheduler
	Engine      *scheduler.CronEngine

	Plugins         *participants.Plugins
	LoggerLevels    *participants.LoggerLevels
	MetricProviders *participants.MetricProviders
	Sessions        *participants.Sessions
	Params          *participants.ClusterParams

	Health *health.Checker
	Sink   snapshot.Sink

	root    *logging.JSONLogger
	gossip  *membership.GossipProvider
	ping    func(context.Context) error
	started time.Time
	closers []func(context.Context) error
}

// New builds a node from cfg. The cluster record is created on first boot.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Node, error) {
	root := opts.Logger
	if root == nil {
		root = logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	n := &Node{
		Config:  cfg,
		Role:    opts.Role,
		Levels:  logging.NewLevelRegistry(root),
		root:    root,
		Metrics: reg,
		started: time.Now(),
	}
	n.Logger = n.Levels.Logger("node").With(logging.NodeID(cfg.Node.ID))
	reg.SetNodeInfo(cfg.Node.ID, n.Role.String(), cfg.Cluster.Name)

	if err := n.build(ctx, opts); err != nil {
		_ = n.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return n, nil
}

func (n *Node) build(ctx context.Context, opts Options) error {
	cfg := n.Config

	if err := n.openStores(ctx, opts.Stores); err != nil {
		return err
	}

	mode, err := cluster.ParseDeploymentMode(cfg.Cluster.DeploymentMode)
	if err != nil {
		return err
	}
	record, err := cluster.EnsureConfig(ctx, n.Stores.Cluster, cluster.Bootstrap{
		ClusterName:     cfg.Cluster.Name,
		ValidationToken: cfg.Cluster.ValidationToken,
		DeploymentMode:  mode,
		Quorum:          cfg.Cluster.Quorum,
		Members:         cfg.PeerIDs(),
	})
	if err != nil {
		return err
	}
	if record.ClusterName != cfg.Cluster.Name {
		return fmt.Errorf("store belongs to cluster %q, configured for %q", record.ClusterName, cfg.Cluster.Name)
	}

	if err := n.buildMembership(opts.Membership); err != nil {
		return err
	}
	if n.gossip != nil {
		n.closers = append(n.closers, func(context.Context) error {
			return n.gossip.Leave(n.Config.Resync.Timeout)
		})
	}
	if err := n.buildResync(record, opts.Transport); err != nil {
		return err
	}
	if err := n.buildCluster(); err != nil {
		return err
	}
	if err := n.buildTasks(); err != nil {
		return err
	}
	n.buildParticipants()

	if err := n.Registry.Register(
		n.Coordinator.Participant(),
		n.Scheduler,
		n.Plugins,
		n.LoggerLevels,
		n.MetricProviders,
		n.Sessions,
		n.Params,
	); err != nil {
		return err
	}

	if err := n.buildSink(ctx); err != nil {
		return err
	}
	n.buildHealth()

	// Apply the persisted state before anything reads the local views.
	if err := n.Registry.ResyncAll(ctx); err != nil {
		n.Logger.Warn("Initial local resync incomplete", logging.Error(err))
	}
	return nil
}

func (n *Node) buildResync(record *cluster.Config, transport resync.Transport) error {
	cfg := n.Config

	signer, err := resync.NewSigner(record.ClusterName, record.ValidationToken)
	if err != nil {
		return err
	}
	n.Signer = signer

	if transport == nil {
		transport, err = resync.NewTransport(cfg.Resync.Transport, resync.TransportOptions{Timeout: cfg.Resync.Timeout})
		if err != nil {
			return err
		}
	}
	n.Transport = transport

	n.Registry = resync.NewRegistry(n.Metrics, n.Levels.Logger("resync"))
	n.Broadcaster = resync.NewBroadcaster(resync.BroadcasterOptions{
		Membership: n.broadcastView(),
		Transport:  transport,
		Signer:     signer,
		FanOut:     cfg.Resync.FanOut,
		Timeout:    cfg.Resync.Timeout,
		Metrics:    n.Metrics,
		Logger:     n.Levels.Logger("resync"),
	})
	n.Listener = resync.NewListener(cfg.Node.ID, n.Registry, signer, n.Metrics, n.Levels.Logger("resync"))
	return nil
}

func (n *Node) buildCluster() error {
	n.Fence = cluster.NewFenceState(n.Metrics, n.Levels.Logger("fencing"))

	coord, err := cluster.NewQuorumCoordinator(cluster.CoordinatorOptions{
		Repository:  n.Stores.Cluster,
		Membership:  n.Membership,
		Broadcaster: n.Broadcaster,
		Presence: timedPresence{
			inner:   cluster.MembershipPresence{Repository: n.Stores.Cluster, Membership: n.Membership},
			timeout: n.Config.Cluster.PresenceTimeout,
		},
		Fencer:   n.Fence,
		Operator: n.Role == RoleClient,
		Metrics:  n.Metrics,
		Logger:   n.Levels.Logger("cluster"),
	})
	if err != nil {
		return err
	}
	n.Coordinator = coord
	return nil
}

func (n *Node) buildTasks() error {
	n.Events = task.NewBusNotifier(pubsub.New[task.Event](64))

	var executor task.Executor
	if n.Role == RoleDaemon {
		n.Dispatcher = task.NewDispatcher(n.Config.Tasks.Workers, n.Levels.Logger("executor"))
		executor = n.Dispatcher
		n.closers = append(n.closers, func(context.Context) error {
			n.Dispatcher.Close()
			return nil
		})
	}

	n.Tasks = task.NewManager(task.ManagerOptions{
		Repository: n.Stores.Tasks,
		Executor:   executor,
		Notifier:   n.Events,
		Metrics:    n.Metrics,
		Logger:     n.Levels.Logger("tasks"),
	})
	if n.Dispatcher != nil {
		n.Dispatcher.Attach(n.Tasks)
		n.registerHandlers()
	}

	n.Engine = scheduler.NewCronEngine(n.Metrics, n.Levels.Logger("scheduler"))
	n.closers = append(n.closers, n.Engine.Stop)

	sched, err := scheduler.New(scheduler.Options{
		Repository:  n.Stores.Schedules,
		Engine:      n.Engine,
		Tasks:       n.Tasks,
		Broadcaster: n.Broadcaster,
		Leadership:  scheduler.LeadershipFunc(n.fires),
		FireTimeout: n.Config.Scheduler.FireTimeout,
		Metrics:     n.Metrics,
		Logger:      n.Levels.Logger("scheduler"),
	})
	if err != nil {
		return err
	}
	n.Scheduler = sched
	return nil
}

func (n *Node) buildParticipants() {
	opts := func(component string) participants.Options {
		return participants.Options{
			Repository:  n.Stores.State,
			Broadcaster: n.Broadcaster,
			Metrics:     n.Metrics,
			Logger:      n.Levels.Logger(component),
		}
	}

	n.Plugins = participants.NewPlugins(opts("plugins"), func(name string, enabled bool) {
		n.Logger.Info("Plugin state applied", logging.String("plugin", name), logging.Bool("enabled", enabled))
	})
	n.LoggerLevels = participants.NewLoggerLevels(opts("logger-levels"), n.Levels)
	n.MetricProviders = participants.NewMetricProviders(opts("metric-providers"))
	n.Sessions = participants.NewSessions(opts("sessions"), n.Config.Sessions.TTL)
	n.Params = participants.NewClusterParams(opts("cluster-params"))
}

// coordinates reports whether this node runs cluster-wide work: it must be
// a daemon, the oldest member and not fenced
func (n *Node) coordinates() bool {
	return n.Role == RoleDaemon && n.Elector.IsLeader() && !n.Fence.Fenced()
}

// fires reports whether this node turns due schedules into tasks
func (n *Node) fires() bool {
	return n.Config.Scheduler.Enabled && n.coordinates()
}

// Uptime is the time since New
func (n *Node) Uptime() time.Duration {
	return time.Since(n.started)
}

// Close releases everything New acquired, in reverse order
func (n *Node) Close(ctx context.Context) error {
	if n.Broadcaster != nil {
		n.Broadcaster.Wait()
	}
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}

// timedPresence bounds a presence probe
type timedPresence struct {
	inner   cluster.QuorumPresence
	timeout time.Duration
}

func (p timedPresence) Present(ctx context.Context) bool {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.inner.Present(ctx)
}
