package node

import (
	"context"

	"github.com/dd0wney/cluso-controlplane/pkg/cluster"
	"github.com/dd0wney/cluso-controlplane/pkg/participants"
	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
	"github.com/dd0wney/cluso-controlplane/pkg/snapshot"
	"github.com/dd0wney/cluso-controlplane/pkg/store/postgres"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

// MemoryStores returns empty in-process repositories
func MemoryStores() snapshot.Stores {
	return snapshot.Stores{
		Cluster:   cluster.NewMemoryRepository(),
		State:     participants.NewMemoryStateRepository(),
		Schedules: scheduler.NewMemoryRepository(),
		Tasks:     task.NewMemoryRepository(),
	}
}

// openStores picks the repositories every component shares
func (n *Node) openStores(ctx context.Context, override *snapshot.Stores) error {
	switch {
	case override != nil:
		n.Stores = *override
		n.ping = func(context.Context) error { return nil }
		return nil

	case n.Config.Store.Driver == "postgres":
		store, err := postgres.Open(ctx, n.Config.Store.DSN, postgres.PoolOptions{
			MaxConns: int32(n.Config.Store.MaxConns),
		})
		if err != nil {
			return err
		}
		n.closers = append(n.closers, func(context.Context) error { return store.Close() })
		n.Stores = snapshot.Stores{
			Cluster:   store.Cluster(),
			State:     store.State(),
			Schedules: store.Schedules(),
			Tasks:     store.Tasks(),
		}
		n.ping = store.Ping
		return nil

	case n.Role == RoleClient:
		return ErrSharedStoreRequired

	default:
		n.Stores = MemoryStores()
		n.ping = func(context.Context) error { return nil }
		return nil
	}
}
