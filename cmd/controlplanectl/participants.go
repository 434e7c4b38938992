package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-controlplane/pkg/status"
)

// keyValues renders a sorted two-column table
func keyValues(header string, m map[string]string) string {
	rows := make([][]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		rows = append(rows, []string{k, m[k]})
	}
	return status.Table([]string{header, "VALUE"}, rows)
}

func (a *app) pluginCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plugin", Aliases: []string{"plugins"}, Short: "Enable, disable and configure plugins"}

	enable := &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a plugin cluster-wide",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.node.Plugins.Enable(a.ctx, args[0]); err != nil {
				return err
			}
			return a.done("enabled", args)
		},
	}
	disable := &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable a plugin cluster-wide",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.node.Plugins.Disable(a.ctx, args[0]); err != nil {
				return err
			}
			return a.done("disabled", args)
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List enabled plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := a.node.Plugins.EnabledPlugins()
			return a.print(names, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, strings.Join(names, "\n"))
				return err
			})
		},
	}

	var settings map[string]string
	configure := &cobra.Command{
		Use:   "configure <name>",
		Short: "Replace a plugin's settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.node.Plugins.Configure(a.ctx, args[0], settings); err != nil {
				return err
			}
			return a.done("configured", args)
		},
	}
	configure.Flags().StringToStringVar(&settings, "set", nil, "Setting as key=value (repeatable)")

	show := &cobra.Command{
		Use:   "settings <name>",
		Short: "Show a plugin's settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.node.Plugins.Settings(a.ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(s, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, keyValues("SETTING", s))
				return err
			})
		},
	}

	cmd.AddCommand(enable, disable, list, configure, show)
	return cmd
}

func (a *app) logLevelCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log-level", Short: "Override component log levels cluster-wide"}

	set := &cobra.Command{
		Use:   "set <component> <level>",
		Short: "Set a component's level",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.node.LoggerLevels.SetLevel(a.ctx, args[0], args[1]); err != nil {
				return err
			}
			return a.done("set", args[:1])
		},
	}
	reset := &cobra.Command{
		Use:   "reset <component>",
		Short: "Drop a component's override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.node.LoggerLevels.ResetLevel(a.ctx, args[0]); err != nil {
				return err
			}
			return a.done("reset", args)
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.node.LoggerLevels.Overrides(a.ctx)
			if err != nil {
				return err
			}
			return a.print(o, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, keyValues("COMPONENT", o))
				return err
			})
		},
	}

	cmd.AddCommand(set, reset, list)
	return cmd
}

func (a *app) paramCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "param", Aliases: []string{"params"}, Short: "Manage cluster parameters"}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a parameter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.node.Params.Set(a.ctx, args[0], args[1]); err != nil {
				return err
			}
			return a.done("set", args[:1])
		},
	}
	unset := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a parameter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.node.Params.Unset(a.ctx, args[0]); err != nil {
				return err
			}
			return a.done("unset", args)
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := a.node.Params.All()
			return a.print(all, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, keyValues("KEY", all))
				return err
			})
		},
	}

	cmd.AddCommand(set, unset, list)
	return cmd
}

func (a *app) providerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "provider", Aliases: []string{"providers"}, Short: "Activate or deactivate metric providers"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "activate <provider>",
			Short: "Activate a metric provider",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.node.MetricProviders.Activate(a.ctx, args[0]); err != nil {
					return err
				}
				return a.done("activated", args)
			},
		},
		&cobra.Command{
			Use:   "deactivate <provider>",
			Short: "Deactivate a metric provider",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.node.MetricProviders.Deactivate(a.ctx, args[0]); err != nil {
					return err
				}
				return a.done("deactivated", args)
			},
		},
	)
	return cmd
}

func (a *app) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Aliases: []string{"sessions"}, Short: "Manage user sessions"}

	var reason string
	revoke := &cobra.Command{
		Use:   "revoke <user>",
		Short: "Revoke every session of a user on all nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.node.Sessions.RevokeUser(a.ctx, args[0], reason); err != nil {
				return err
			}
			return a.done("revoked", args)
		},
	}
	revoke.Flags().StringVar(&reason, "reason", "revoked by operator", "Recorded revocation reason")

	cmd.AddCommand(revoke)
	return cmd
}
