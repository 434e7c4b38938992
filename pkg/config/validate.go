package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/validation"
)

// Validate checks every section and reports all failures together
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, validation.NewConfigValidator("node").
		Identifier("id", c.Node.ID).
		Required("resync_addr", c.Node.ResyncAddr).
		Validate())

	errs = append(errs, validation.NewConfigValidator("cluster").
		Required("name", c.Cluster.Name).
		OneOf("deployment_mode", strings.ToUpper(c.Cluster.DeploymentMode), []string{"STANDALONE", "CLUSTER"}).
		Positive("quorum", c.Cluster.Quorum).
		MinDuration("presence_timeout", c.Cluster.PresenceTimeout, 100*time.Millisecond).
		Validate())

	mv := validation.NewConfigValidator("membership").
		OneOf("provider", c.Membership.Provider, []string{"static", "gossip"})
	mv.When(c.Membership.Provider == "gossip", func(cv *validation.ConfigValidator) {
		cv.Required("bind_addr", c.Membership.BindAddr).
			RangeInt("bind_port", c.Membership.BindPort, 1, 65535)
	})
	mv.When(c.Membership.Provider == "static", func(cv *validation.ConfigValidator) {
		cv.Custom("peers", func() error { return c.checkPeers() })
	})
	errs = append(errs, mv.Validate())

	errs = append(errs, validation.NewConfigValidator("store").
		OneOf("driver", c.Store.Driver, []string{"memory", "postgres"}).
		When(c.Store.Driver == "postgres", func(cv *validation.ConfigValidator) {
			cv.Required("dsn", c.Store.DSN)
		}).
		Positive("max_conns", c.Store.MaxConns).
		Validate())

	errs = append(errs, validation.NewConfigValidator("resync").
		OneOf("transport", c.Resync.Transport, []string{"mangos", "zmq", "memory"}).
		MinDuration("timeout", c.Resync.Timeout, 100*time.Millisecond).
		RangeInt("fan_out", c.Resync.FanOut, 1, 256).
		Validate())

	errs = append(errs, validation.NewConfigValidator("tasks").
		MinDuration("stale_threshold", c.Tasks.StaleThreshold, time.Minute).
		MinDuration("sweep_interval", c.Tasks.SweepInterval, time.Second).
		RangeInt("workers", c.Tasks.Workers, 1, 64).
		Validate())

	errs = append(errs, validation.NewConfigValidator("metrics").
		When(c.Metrics.Addr != "", func(cv *validation.ConfigValidator) {
			cv.HostPort("addr", c.Metrics.Addr)
		}).
		Validate())

	errs = append(errs, validation.NewConfigValidator("log").
		Custom("level", func() error {
			_, err := logging.ParseLevelStrict(c.LogLevel)
			return err
		}).
		Validate())

	return errors.Join(errs...)
}

func (c *Config) checkPeers() error {
	seen := make(map[string]bool, len(c.Membership.Peers))
	for _, p := range c.Membership.Peers {
		if err := validation.ValidateIdentifier("peer id", p.ID); err != nil {
			return err
		}
		if p.Addr == "" {
			return fmt.Errorf("peer %s has no addr", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate peer %s", p.ID)
		}
		seen[p.ID] = true
	}
	if len(c.Membership.Peers) > 0 && !seen[c.Node.ID] {
		return fmt.Errorf("peers must include the local node %s", c.Node.ID)
	}
	return nil
}

// PeerIDs returns the static peer ids, sorted
func (c *Config) PeerIDs() []string {
	ids := make([]string, 0, len(c.Membership.Peers))
	for _, p := range c.Membership.Peers {
		ids = append(ids, p.ID)
	}
	slices.Sort(ids)
	return ids
}
