package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-controlplane/pkg/node"
)

func (a *app) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Short: "Export and import store snapshots"}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of the shared store to the sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.node.ExportSnapshot(a.ctx)
			if err != nil {
				return err
			}
			return a.done("exported", []string{name})
		},
	}
	imp := &cobra.Command{
		Use:   "import <name>",
		Short: "Load a snapshot into an empty store and resync every node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.node.ImportSnapshot(a.ctx, args[0]); err != nil {
				return err
			}
			return a.done("imported", args)
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots in the sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.node.Sink == nil {
				return node.ErrNoSink
			}
			names, err := a.node.Sink.List(a.ctx)
			if err != nil {
				return err
			}
			return a.print(names, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, strings.Join(names, "\n"))
				return err
			})
		},
	}

	cmd.AddCommand(export, imp, list)
	return cmd
}
