package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CONTROLPLANE_"

// Load reads path on top of Default, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads a .env file into the process environment. A missing
// file is not an error; variables already set are kept.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides fields from CONTROLPLANE_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("NODE_ID", &c.Node.ID)
	e.str("RESYNC_ADDR", &c.Node.ResyncAddr)
	e.str("CLUSTER_NAME", &c.Cluster.Name)
	e.str("VALIDATION_TOKEN", &c.Cluster.ValidationToken)
	e.str("DEPLOYMENT_MODE", &c.Cluster.DeploymentMode)
	e.int("QUORUM", &c.Cluster.Quorum)
	e.str("MEMBERSHIP_PROVIDER", &c.Membership.Provider)
	e.list("MEMBERSHIP_JOIN", &c.Membership.Join)
	e.str("MEMBERSHIP_BIND_ADDR", &c.Membership.BindAddr)
	e.int("MEMBERSHIP_BIND_PORT", &c.Membership.BindPort)
	e.str("STORE_DRIVER", &c.Store.Driver)
	e.str("STORE_DSN", &c.Store.DSN)
	e.str("RESYNC_TRANSPORT", &c.Resync.Transport)
	e.duration("RESYNC_TIMEOUT", &c.Resync.Timeout)
	e.int("RESYNC_FAN_OUT", &c.Resync.FanOut)
	e.duration("TASKS_STALE_THRESHOLD", &c.Tasks.StaleThreshold)
	e.duration("TASKS_SWEEP_INTERVAL", &c.Tasks.SweepInterval)
	e.int("TASKS_WORKERS", &c.Tasks.Workers)
	e.bool("SCHEDULER_ENABLED", &c.Scheduler.Enabled)
	e.str("SNAPSHOT_DIR", &c.Snapshot.Dir)
	e.str("SNAPSHOT_S3_BUCKET", &c.Snapshot.S3Bucket)
	e.str("SNAPSHOT_S3_PREFIX", &c.Snapshot.S3Prefix)
	e.str("SNAPSHOT_S3_REGION", &c.Snapshot.S3Region)
	e.str("SNAPSHOT_S3_ENDPOINT", &c.Snapshot.S3Endpoint)
	e.str("METRICS_ADDR", &c.Metrics.Addr)
	e.str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(name, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, v, err))
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}
