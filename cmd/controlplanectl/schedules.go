package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
	"github.com/dd0wney/cluso-controlplane/pkg/status"
)

func parseScheduleStatuses(in []string) []scheduler.Status {
	out := make([]scheduler.Status, 0, len(in))
	for _, s := range in {
		out = append(out, scheduler.Status(strings.ToUpper(s)))
	}
	return out
}

func (a *app) scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schedule", Aliases: []string{"schedules"}, Short: "Manage task schedules"}

	var statuses []string
	var active bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var specs []*scheduler.Spec
			var err error
			if active {
				specs, err = a.node.Scheduler.GetActive(a.ctx)
			} else {
				specs, err = a.node.Scheduler.List(a.ctx, parseScheduleStatuses(statuses)...)
			}
			if err != nil {
				return err
			}
			return a.print(specs, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, status.SchedulesTable(specs))
				return err
			})
		},
	}
	list.Flags().StringSliceVar(&statuses, "status", nil, "Only these statuses (repeatable)")
	list.Flags().BoolVar(&active, "active", false, "Only SCHEDULED, PAUSED and INITIALIZING")

	cmd.AddCommand(
		list,
		a.scheduleShowCmd(),
		a.scheduleCreateCmd(),
		a.scheduleModifyCmd(),
		a.scheduleTransitionCmd("pause", "Stop firing schedules", "paused", func(ctx context.Context, ids []string) ([]string, error) {
			return a.node.Scheduler.Pause(ctx, ids)
		}),
		a.scheduleTransitionCmd("resume", "Resume paused schedules", "resumed", func(ctx context.Context, ids []string) ([]string, error) {
			return a.node.Scheduler.Resume(ctx, ids)
		}),
		a.scheduleCancelCmd(),
		a.scheduleDeleteCmd(),
	)
	return cmd
}

func (a *app) scheduleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := a.node.Scheduler.Get(a.ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(spec, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, status.SchedulesTable([]*scheduler.Spec{spec}))
				return err
			})
		},
	}
}

// specFlags are the trigger definition flags shared by create and modify
type specFlags struct {
	id, name, cron, at, kind, payload string
}

func (f *specFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().StringVar(&f.cron, "cron", "", "Cron expression (CRON job)")
	cmd.Flags().StringVar(&f.at, "at", "", "RFC 3339 time or a delay like 10m (SIMPLE job)")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Task kind to submit when the schedule fires")
	cmd.Flags().StringVar(&f.payload, "payload", "", "JSON payload handed to the task")
	cmd.MarkFlagsMutuallyExclusive("cron", "at")
}

func (f *specFlags) spec() (scheduler.Spec, error) {
	s := scheduler.Spec{ID: f.id, Name: f.name, TaskKind: f.kind}
	switch {
	case f.cron != "":
		s.JobType = scheduler.JobCron
		s.CronExpression = f.cron
	case f.at != "":
		s.JobType = scheduler.JobSimple
		at, err := parseAt(f.at, time.Now())
		if err != nil {
			return s, err
		}
		s.ScheduledTime = &at
	}
	if f.payload != "" {
		if !json.Valid([]byte(f.payload)) {
			return s, fmt.Errorf("--payload is not valid JSON")
		}
		s.Payload = json.RawMessage(f.payload)
	}
	return s, nil
}

// parseAt accepts an absolute RFC 3339 time or a delay from now
func parseAt(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(d).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC 3339 or a duration: %w", err)
	}
	return t.UTC(), nil
}

func (a *app) scheduleCreateCmd() *cobra.Command {
	var f specFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a CRON or SIMPLE schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.spec()
			if err != nil {
				return err
			}
			spec, err := a.node.Scheduler.Create(a.ctx, in)
			if err != nil {
				return err
			}
			return a.done("created", []string{spec.ID})
		},
	}
	cmd.Flags().StringVar(&f.id, "id", "", "Schedule id (generated when empty)")
	f.register(cmd)
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func (a *app) scheduleModifyCmd() *cobra.Command {
	var f specFlags
	cmd := &cobra.Command{
		Use:   "modify <id>",
		Short: "Replace the trigger definition of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.id = args[0]
			in, err := f.spec()
			if err != nil {
				return err
			}
			spec, err := a.node.Scheduler.Modify(a.ctx, in)
			if err != nil {
				return err
			}
			return a.done("modified", []string{spec.ID})
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

type transitionFunc func(ctx context.Context, ids []string) ([]string, error)

func (a *app) scheduleTransitionCmd(use, short, verb string, fn transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := fn(a.ctx, args)
			if err != nil {
				return err
			}
			return a.done(verb, ids)
		},
	}
}

func (a *app) scheduleCancelCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "cancel [<id>...]",
		Short: "Cancel schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			var err error
			switch {
			case all:
				ids, err = a.node.Scheduler.CancelAll(a.ctx)
			case len(args) == 0:
				return fmt.Errorf("name schedules to cancel or pass --all")
			default:
				ids, err = a.node.Scheduler.Cancel(a.ctx, args)
			}
			if err != nil {
				return err
			}
			return a.done("cancelled", ids)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Cancel every active schedule")
	return cmd
}

func (a *app) scheduleDeleteCmd() *cobra.Command {
	var withTasks bool
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete schedules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.node.Scheduler.Delete(a.ctx, args, withTasks)
			if err != nil {
				return err
			}
			return a.done("deleted", ids)
		},
	}
	cmd.Flags().BoolVar(&withTasks, "tasks", false, "Also delete the tasks the schedules spawned")
	return cmd
}
