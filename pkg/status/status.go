// Package status collects a point-in-time view of a node and renders it for
// the admin CLI and the dashboard.
package status

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/cluster"
	"github.com/dd0wney/cluso-controlplane/pkg/membership"
	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

// RecentTaskLimit caps Report.RecentTasks
const RecentTaskLimit = 20

// Sources are what Collect reads. Any nil source leaves its section empty.
type Sources struct {
	NodeID     string
	Cluster    cluster.Repository
	Membership membership.Provider
	Fencer     interface {
		Fenced() bool
		Reason() string
	}
	Tasks     *task.Manager
	Schedules *scheduler.Scheduler
	Plugins   interface{ EnabledPlugins() []string }
	Params    interface{ All() map[string]string }
}

// Member is one row of the membership table
type Member struct {
	ID     string `json:"id"`
	Addr   string `json:"addr"`
	Oldest bool   `json:"oldest"`
	Local  bool   `json:"local"`
}

// TaskCounts tallies tasks by status
type TaskCounts struct {
	Initializing int `json:"initializing"`
	InProgress   int `json:"in_progress"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	Unremediated int `json:"unremediated"`
}

// Report is the collected view
type Report struct {
	NodeID      string            `json:"node_id"`
	CollectedAt time.Time         `json:"collected_at"`
	Config      *cluster.Config   `json:"config,omitempty"`
	Members     []Member          `json:"members"`
	HasQuorum   bool              `json:"has_quorum"`
	Fenced      bool              `json:"fenced"`
	FenceReason string            `json:"fence_reason,omitempty"`
	Tasks       TaskCounts        `json:"tasks"`
	RecentTasks []*task.Task      `json:"recent_tasks"`
	Schedules   []*scheduler.Spec `json:"schedules"`
	Plugins     []string          `json:"plugins"`
	Params      map[string]string `json:"params,omitempty"`
}

// Collect builds a Report
func Collect(ctx context.Context, src Sources) (*Report, error) {
	r := &Report{NodeID: src.NodeID, CollectedAt: time.Now().UTC()}

	if src.Cluster != nil {
		cfg, err := src.Cluster.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load cluster config: %w", err)
		}
		r.Config = cfg
	}

	if src.Membership != nil {
		snap := src.Membership.Snapshot()
		for _, m := range snap.Members() {
			r.Members = append(r.Members, Member{
				ID:     m.ID,
				Addr:   m.Addr,
				Oldest: snap.IsOldest(m.ID),
				Local:  snap.IsLocal(m.ID),
			})
		}
		if r.Config != nil {
			r.HasQuorum = snap.Size() >= r.Config.Quorum
		}
	}

	if src.Fencer != nil {
		r.Fenced = src.Fencer.Fenced()
		r.FenceReason = src.Fencer.Reason()
	}

	if src.Tasks != nil {
		tasks, err := src.Tasks.List(ctx, task.Filter{})
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}
		r.Tasks = countTasks(tasks)
		r.RecentTasks = recent(tasks, RecentTaskLimit)
	}

	if src.Schedules != nil {
		specs, err := src.Schedules.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list schedules: %w", err)
		}
		r.Schedules = specs
	}

	if src.Plugins != nil {
		r.Plugins = src.Plugins.EnabledPlugins()
	}
	if src.Params != nil {
		r.Params = src.Params.All()
	}
	return r, nil
}

func countTasks(tasks []*task.Task) TaskCounts {
	var c TaskCounts
	for _, t := range tasks {
		switch t.Status {
		case task.StatusInitializing:
			c.Initializing++
		case task.StatusInProgress:
			c.InProgress++
		case task.StatusCompleted:
			c.Completed++
		case task.StatusFailed:
			c.Failed++
		}
		if t.Remediated != nil && t.Status.Terminal() && !*t.Remediated {
			c.Unremediated++
		}
	}
	return c
}

// recent returns the limit most recently updated tasks, newest first
func recent(tasks []*task.Task, limit int) []*task.Task {
	out := slices.Clone(tasks)
	slices.SortFunc(out, func(a, b *task.Task) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
