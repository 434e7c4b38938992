package cluster

import "errors"

// Config errors
var (
	ErrConfigNotFound         = errors.New("cluster config not found")
	ErrInvalidDeploymentMode  = errors.New("invalid deployment mode")
	ErrInvalidQuorumSize      = errors.New("quorum size must be at least 1")
	ErrEmptyClusterName       = errors.New("cluster name cannot be empty")
	ErrConfigInvariantBroken  = errors.New("cluster config violates quorum invariant")
	ErrMissingRepository      = errors.New("cluster repository is required")
	ErrMissingMembership      = errors.New("membership provider is required")
)

// Proposal errors
var (
	ErrQuorumTooLow             = errors.New("quorum is below the required quorum for the current membership")
	ErrQuorumUnchanged          = errors.New("quorum already has the requested value")
	ErrInvalidForDeploymentMode = errors.New("quorum is not valid for the deployment mode")
	ErrAlreadyInState           = errors.New("cluster is already in the requested deployment mode")
	ErrFenced                   = errors.New("node is fenced from cluster coordination")
)
