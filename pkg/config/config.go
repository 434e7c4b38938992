// Package config loads the node configuration from YAML, an optional .env
// file and CONTROLPLANE_* environment overrides.
package config

import (
	"time"
)

// Config is the full node configuration
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Membership MembershipConfig `yaml:"membership"`
	Store      StoreConfig      `yaml:"store"`
	Resync     ResyncConfig     `yaml:"resync"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	LogLevel   string           `yaml:"log_level"`
}

// NodeConfig identifies this node
type NodeConfig struct {
	ID string `yaml:"id"`
	// ResyncAddr is where peers deliver resync messages
	ResyncAddr string `yaml:"resync_addr"`
}

// ClusterConfig seeds the cluster record on first boot
type ClusterConfig struct {
	Name            string `yaml:"name"`
	ValidationToken string `yaml:"validation_token"`
	DeploymentMode  string `yaml:"deployment_mode"`
	Quorum          int    `yaml:"quorum"`
	// PresenceTimeout bounds the quorum presence probe
	PresenceTimeout time.Duration `yaml:"presence_timeout"`
}

// StaticPeer is a fixed member of a static membership
type StaticPeer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// MembershipConfig selects how members are discovered
type MembershipConfig struct {
	Provider string       `yaml:"provider"` // static or gossip
	Peers    []StaticPeer `yaml:"peers"`
	BindAddr string       `yaml:"bind_addr"`
	BindPort int          `yaml:"bind_port"`
	Join     []string     `yaml:"join"`
}

// StoreConfig selects the shared store
type StoreConfig struct {
	Driver   string `yaml:"driver"` // memory or postgres
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// ResyncConfig tunes the broadcast protocol
type ResyncConfig struct {
	Transport string        `yaml:"transport"` // mangos, zmq or memory
	Timeout   time.Duration `yaml:"timeout"`
	FanOut    int           `yaml:"fan_out"`
}

// TasksConfig tunes the stale task sweeper
type TasksConfig struct {
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	// Workers bounds concurrently executing tasks on a daemon
	Workers int `yaml:"workers"`
}

// SchedulerConfig toggles the trigger engine
type SchedulerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	FireTimeout time.Duration `yaml:"fire_timeout"`
}

// SnapshotConfig selects where snapshots are written
type SnapshotConfig struct {
	Dir        string `yaml:"dir"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
}

// MetricsConfig exposes /metrics and health endpoints
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SessionsConfig tunes the local session cache
type SessionsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Default returns a single-node configuration
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:         "node-1",
			ResyncAddr: "tcp://127.0.0.1:7400",
		},
		Cluster: ClusterConfig{
			Name:            "controlplane",
			DeploymentMode:  "STANDALONE",
			Quorum:          1,
			PresenceTimeout: 2 * time.Second,
		},
		Membership: MembershipConfig{
			Provider: "static",
			BindAddr: "0.0.0.0",
			BindPort: 7946,
		},
		Store: StoreConfig{
			Driver:   "memory",
			MaxConns: 10,
		},
		Resync: ResyncConfig{
			Transport: "mangos",
			Timeout:   5 * time.Second,
			FanOut:    8,
		},
		Tasks: TasksConfig{
			StaleThreshold: 30 * time.Minute,
			SweepInterval:  time.Minute,
			Workers:        4,
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			FireTimeout: 30 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Dir: "./snapshots",
		},
		Metrics: MetricsConfig{
			Addr: ":9400",
		},
		Sessions: SessionsConfig{
			TTL: 12 * time.Hour,
		},
		LogLevel: "INFO",
	}
}
