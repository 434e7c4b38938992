package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/config"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/node"
	"github.com/dd0wney/cluso-controlplane/pkg/server"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to the node config (YAML)")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before the environment is read")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "controlplaned: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	root := logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.New(ctx, cfg, node.Options{Role: node.RoleDaemon, Logger: root})
	if err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := n.Close(closeCtx); err != nil {
			n.Logger.Error("Shutdown incomplete", logging.Error(err))
		}
	}()

	reload := func() error {
		next, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return n.Reload(ctx, next)
	}
	go server.HandleSignals(ctx, cancel, reload, n.Logger)

	n.Logger.Info("Starting control plane node",
		logging.String("cluster", cfg.Cluster.Name),
		logging.String("store", cfg.Store.Driver),
		logging.String("membership", cfg.Membership.Provider),
		logging.String("transport", cfg.Resync.Transport),
	)
	return n.Run(ctx)
}
