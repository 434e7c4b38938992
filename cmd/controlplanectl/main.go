package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-controlplane/pkg/config"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/node"
)

// app holds what every subcommand shares
type app struct {
	configPath string
	envFile    string
	output     string
	timeout    time.Duration
	verbose    bool

	node *node.Node
	// owned is false when node was supplied by the caller and outlives the
	// command
	owned  bool
	ctx    context.Context
	cancel context.CancelFunc
	out    io.Writer
}

func main() {
	a := &app{out: os.Stdout}
	if err := a.root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func (a *app) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "controlplanectl",
		Short:         "Administer a control plane cluster through its shared store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "Node config (YAML) naming the store and peers")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Optional .env file")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "Output format: text|json")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Deadline for the whole command")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at DEBUG to stderr")

	root.AddCommand(
		a.statusCmd(),
		a.quorumCmd(),
		a.modeCmd(),
		a.resyncCmd(),
		a.scheduleCmd(),
		a.taskCmd(),
		a.pluginCmd(),
		a.logLevelCmd(),
		a.paramCmd(),
		a.providerCmd(),
		a.sessionCmd(),
		a.snapshotCmd(),
	)
	return root
}

func (a *app) open() error {
	a.ctx, a.cancel = context.WithTimeout(context.Background(), a.timeout)
	if a.node != nil {
		return nil
	}

	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	level := logging.WarnLevel
	if a.verbose {
		level = logging.DebugLevel
	}

	n, err := node.New(a.ctx, cfg, node.Options{
		Role:   node.RoleClient,
		Logger: logging.NewJSONLogger(os.Stderr, level),
	})
	if err != nil {
		a.cancel()
		return err
	}
	a.node, a.owned = n, true
	return nil
}

// close waits for outstanding broadcasts before releasing the store
func (a *app) close() error {
	defer a.cancel()
	if !a.owned {
		return nil
	}
	return a.node.Close(a.ctx)
}

// print writes v as JSON, or calls text for the text format
func (a *app) print(v any, text func(w io.Writer) error) error {
	if a.output == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(a.out)
}

// done reports a mutation that changed the listed ids
func (a *app) done(verb string, ids []string) error {
	return a.print(map[string]any{verb: ids}, func(w io.Writer) error {
		if len(ids) == 0 {
			_, err := fmt.Fprintf(w, "nothing %s\n", verb)
			return err
		}
		for _, id := range ids {
			if _, err := fmt.Fprintf(w, "%s %s\n", verb, id); err != nil {
				return err
			}
		}
		return nil
	})
}
