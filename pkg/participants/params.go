package participants

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/validation"
)

// ClusterParamsName is the resync participant name for cluster parameters
const ClusterParamsName = "cluster-params"

// ClusterParams is a free-form string map shared by every node
type ClusterParams struct {
	state[string]

	mu     sync.RWMutex
	values map[string]string
}

// NewClusterParams creates the cluster parameter participant
func NewClusterParams(opts Options) *ClusterParams {
	return &ClusterParams{
		state:  newState[string](ClusterParamsName, opts),
		values: make(map[string]string),
	}
}

// Name implements resync.Participant
func (c *ClusterParams) Name() string { return ClusterParamsName }

// Set persists a parameter and broadcasts it
func (c *ClusterParams) Set(ctx context.Context, key, value string) error {
	const op = "set cluster param"
	if err := validation.ValidateIdentifier("param", key); err != nil {
		return controlerr.Validation(op, err)
	}
	cur, ok, err := c.get(ctx, key)
	if err != nil {
		return err
	}
	if ok && cur == value {
		return controlerr.Precondition(op, fmt.Errorf("%w: %s", ErrUnchanged, key))
	}
	if err := c.put(ctx, key, value); err != nil {
		return err
	}
	c.apply(key, value, true)
	return nil
}

// Unset removes a parameter and broadcasts it
func (c *ClusterParams) Unset(ctx context.Context, key string) error {
	removed, err := c.remove(ctx, key)
	if err != nil {
		return err
	}
	if !removed {
		return controlerr.Precondition("unset cluster param", fmt.Errorf("%w: %s is not set", ErrUnchanged, key))
	}
	c.apply(key, "", false)
	return nil
}

// Get returns the local value of a parameter
func (c *ClusterParams) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// All returns a copy of the local parameters
func (c *ClusterParams) All() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values)
}

// Resync reloads one parameter, or the whole map when key is empty
func (c *ClusterParams) Resync(ctx context.Context, key string) error {
	if key != "" {
		v, ok, err := c.get(ctx, key)
		if err != nil {
			return err
		}
		c.apply(key, v, ok)
		return nil
	}

	all, err := c.all(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.values = all
	c.mu.Unlock()
	return nil
}

func (c *ClusterParams) apply(key, value string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.values[key] = value
	} else {
		delete(c.values, key)
	}
}
