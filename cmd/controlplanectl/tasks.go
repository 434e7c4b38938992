package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-controlplane/pkg/status"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

func (a *app) taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Aliases: []string{"tasks"}, Short: "Inspect and repair tasks"}
	cmd.AddCommand(
		a.taskListCmd(),
		a.taskShowCmd(),
		a.taskIDCmd("retrigger", "Start a new attempt on a finished task", "retriggered", (*task.Manager).Retrigger),
		a.taskIDCmd("remediate", "Mark a failed task as remediated", "remediated", (*task.Manager).Remediate),
		a.taskCleanupCmd(),
	)
	return cmd
}

func (a *app) taskListCmd() *cobra.Command {
	var (
		statuses []string
		f        task.Filter
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range statuses {
				f.Statuses = append(f.Statuses, task.Status(strings.ToUpper(s)))
			}
			tasks, err := a.node.Tasks.List(a.ctx, f)
			if err != nil {
				return err
			}
			return a.print(tasks, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, status.TasksTable(tasks))
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only these statuses (repeatable)")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "Only this task kind")
	cmd.Flags().StringVar(&f.ScheduleID, "schedule", "", "Only tasks spawned by this schedule")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "Only children of this aggregate task")
	return cmd
}

func (a *app) taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.node.Tasks.Get(a.ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(t, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, status.TasksTable([]*task.Task{t}))
				return err
			})
		},
	}
}

type taskOp func(m *task.Manager, ctx context.Context, id string) (*task.Task, error)

func (a *app) taskIDCmd(use, short, verb string, op taskOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := op(a.node.Tasks, a.ctx, args[0])
			if err != nil {
				return err
			}
			return a.done(verb, []string{t.ID})
		},
	}
}

func (a *app) taskCleanupCmd() *cobra.Command {
	var threshold time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Fail tasks stuck in progress longer than the threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold <= 0 {
				threshold = a.node.Config.Tasks.StaleThreshold
			}
			ids, err := a.node.Tasks.CleanupStale(a.ctx, threshold)
			if err != nil && !errors.Is(err, task.ErrNoStaleTasks) {
				return err
			}
			return a.done("cleaned", ids)
		},
	}
	cmd.Flags().DurationVar(&threshold, "threshold", 0, "Staleness threshold (defaults to tasks.stale_threshold)")
	return cmd
}
