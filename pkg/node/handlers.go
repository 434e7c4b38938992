package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

// Task kinds every daemon can execute. Schedules name them in TaskKind.
const (
	KindSnapshotExport = "snapshot.export"
	KindStaleCleanup   = "tasks.cleanup"
	KindFullResync     = "resync.full"
)

// cleanupPayload optionally overrides the configured stale threshold
type cleanupPayload struct {
	Threshold string `json:"threshold,omitempty"`
}

func (n *Node) registerHandlers() {
	n.Dispatcher.Handle(KindSnapshotExport, func(ctx context.Context, t *task.Task, r task.Reporter) error {
		name, err := n.ExportSnapshot(ctx)
		if err != nil {
			return err
		}
		n.Logger.Info("Scheduled snapshot written", logging.TaskID(t.ID), logging.String("snapshot", name))
		return nil
	})

	n.Dispatcher.Handle(KindStaleCleanup, func(ctx context.Context, t *task.Task, r task.Reporter) error {
		threshold := n.Config.Tasks.StaleThreshold
		if len(t.Payload) > 0 {
			var p cleanupPayload
			if err := json.Unmarshal(t.Payload, &p); err != nil {
				return fmt.Errorf("invalid cleanup payload: %w", err)
			}
			if p.Threshold != "" {
				d, err := time.ParseDuration(p.Threshold)
				if err != nil {
					return fmt.Errorf("invalid cleanup threshold: %w", err)
				}
				threshold = d
			}
		}
		cleaned, err := n.Tasks.CleanupStale(ctx, threshold)
		if err != nil && !errors.Is(err, task.ErrNoStaleTasks) {
			return err
		}
		n.Logger.Info("Scheduled stale cleanup finished", logging.TaskID(t.ID), logging.Count(len(cleaned)))
		return nil
	})

	n.Dispatcher.Handle(KindFullResync, func(ctx context.Context, t *task.Task, r task.Reporter) error {
		return n.FullResync(ctx)
	})
}
