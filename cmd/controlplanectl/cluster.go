package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-controlplane/pkg/cluster"
	"github.com/dd0wney/cluso-controlplane/pkg/status"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cluster config, members, tasks and schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n := a.node
			r, err := status.Collect(a.ctx, status.Sources{
				NodeID:     n.Config.Node.ID,
				Cluster:    n.Stores.Cluster,
				Membership: n.Membership,
				Fencer:     n.Fence,
				Tasks:      n.Tasks,
				Schedules:  n.Scheduler,
				Plugins:    n.Plugins,
				Params:     n.Params,
			})
			if err != nil {
				return err
			}
			return a.print(r, r.Write)
		},
	}
}

func (a *app) printConfig(cfg *cluster.Config) error {
	return a.print(cfg, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "cluster %s: mode=%s quorum=%d version=%d\n",
			cfg.ClusterName, cfg.DeploymentMode, cfg.Quorum, cfg.Version)
		return err
	})
}

func (a *app) quorumCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "quorum", Short: "Inspect or change the quorum"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <size>",
		Short: "Propose a new quorum size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("quorum must be a number: %w", err)
			}
			cfg, err := a.node.Coordinator.ProposeQuorum(a.ctx, size)
			if err != nil {
				return err
			}
			return a.printConfig(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "required",
		Short: "Show the minimum quorum for the configured membership",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			size := a.node.Membership.Snapshot().Size()
			required, err := a.node.Coordinator.RequiredQuorum(a.ctx, size)
			if err != nil {
				return err
			}
			return a.print(map[string]int{"members": size, "required": required}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%d members require quorum >= %d\n", size, required)
				return err
			})
		},
	})
	return cmd
}

func (a *app) modeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mode", Short: "Change the deployment mode"}
	cmd.AddCommand(&cobra.Command{
		Use:       "set <STANDALONE|CLUSTER>",
		Short:     "Switch deployment mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"STANDALONE", "CLUSTER"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := cluster.ParseDeploymentMode(args[0])
			if err != nil {
				return err
			}
			cfg, err := a.node.Coordinator.ProposeDeploymentMode(a.ctx, mode)
			if err != nil {
				return err
			}
			return a.printConfig(cfg)
		},
	})
	return cmd
}

func (a *app) resyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Ask every member to reload all participants from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var delivered, failed []string
			for _, name := range a.node.Registry.Names() {
				report := a.node.Broadcaster.BroadcastSync(a.ctx, name, "")
				delivered = append(delivered, report.Delivered...)
				for peer, err := range report.Failed {
					failed = append(failed, fmt.Sprintf("%s/%s: %v", name, peer, err))
				}
			}
			result := map[string][]string{"delivered": delivered, "failed": failed}
			return a.print(result, func(w io.Writer) error {
				fmt.Fprintf(w, "%d deliveries\n", len(delivered))
				for _, f := range failed {
					fmt.Fprintf(w, "failed %s\n", f)
				}
				return nil
			})
		},
	}
}
