// Package cluster owns the cluster configuration record and the rules for
// changing it.
//
// This package handles:
//   - The singleton ClusterConfig (name, validation token, mode, quorum, members)
//   - Quorum computation and proposal validation (QuorumCoordinator)
//   - Oldest-member quorum recomputation on membership change
//   - Fencing of non-primary nodes after a downgrade to STANDALONE
//   - The "cluster-config" resync participant
package cluster

import (
	"fmt"
	"slices"
	"time"
)

// DeploymentMode is STANDALONE (single authoritative node) or CLUSTER
type DeploymentMode string

const (
	ModeStandalone DeploymentMode = "STANDALONE"
	ModeCluster    DeploymentMode = "CLUSTER"
)

// Valid reports whether m is a known mode
func (m DeploymentMode) Valid() bool {
	return m == ModeStandalone || m == ModeCluster
}

// Label is the lower-case form used for metric labels
func (m DeploymentMode) Label() string {
	switch m {
	case ModeStandalone:
		return "standalone"
	case ModeCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

// ParseDeploymentMode accepts either case
func ParseDeploymentMode(s string) (DeploymentMode, error) {
	switch s {
	case "STANDALONE", "standalone":
		return ModeStandalone, nil
	case "CLUSTER", "cluster":
		return ModeCluster, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDeploymentMode, s)
	}
}

// Config is the persisted singleton cluster record. It is created once at
// first boot, mutated only through QuorumCoordinator, and never deleted.
type Config struct {
	ID              string         `json:"id"`
	ClusterName     string         `json:"cluster_name"`
	ValidationToken string         `json:"validation_token"`
	DeploymentMode  DeploymentMode `json:"deployment_mode"`
	Quorum          int            `json:"quorum"`
	Members         []string       `json:"members"`
	Version         int64          `json:"version"` // bumped by the repository on every save
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Members = slices.Clone(c.Members)
	return &out
}

// RequiredQuorum returns the minimum quorum for a membership of size members:
// 1 in STANDALONE, a strict majority in CLUSTER.
func RequiredQuorum(mode DeploymentMode, size int) int {
	if mode != ModeCluster {
		return 1
	}
	return size/2 + 1
}

// Validate checks the quorum invariant against a membership size
func (c *Config) Validate(membershipSize int) error {
	if c.ClusterName == "" {
		return ErrEmptyClusterName
	}
	if !c.DeploymentMode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDeploymentMode, c.DeploymentMode)
	}
	if c.Quorum < 1 {
		return ErrInvalidQuorumSize
	}

	switch c.DeploymentMode {
	case ModeStandalone:
		if c.Quorum != 1 {
			return fmt.Errorf("%w: STANDALONE requires quorum 1, have %d", ErrConfigInvariantBroken, c.Quorum)
		}
	case ModeCluster:
		required := RequiredQuorum(ModeCluster, membershipSize)
		if c.Quorum < 2 || c.Quorum < required {
			return fmt.Errorf("%w: CLUSTER with %d members requires quorum >= %d, have %d",
				ErrConfigInvariantBroken, membershipSize, max(2, required), c.Quorum)
		}
	}
	return nil
}

// sortedMembers returns ids as a sorted set
func sortedMembers(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
