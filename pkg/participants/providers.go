package participants

import (
	"context"
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
	"github.com/dd0wney/cluso-controlplane/pkg/validation"
)

// MetricProvidersName is the resync participant name for metric providers
const MetricProvidersName = "metric-providers"

type providerState struct {
	Active bool `json:"active"`
}

// MetricProviders tracks which metric providers are active on this node and
// mirrors the flags into the metrics registry
type MetricProviders struct {
	state[providerState]
	metrics *metrics.Registry

	mu     sync.RWMutex
	active map[string]bool
}

// NewMetricProviders creates the metric provider participant
func NewMetricProviders(opts Options) *MetricProviders {
	return &MetricProviders{
		state:   newState[providerState](MetricProvidersName, opts),
		metrics: opts.Metrics,
		active:  make(map[string]bool),
	}
}

// Name implements resync.Participant
func (m *MetricProviders) Name() string { return MetricProvidersName }

// Activate persists a provider as active and broadcasts it
func (m *MetricProviders) Activate(ctx context.Context, provider string) error {
	return m.set(ctx, "activate metric provider", provider, true)
}

// Deactivate persists a provider as inactive and broadcasts it
func (m *MetricProviders) Deactivate(ctx context.Context, provider string) error {
	return m.set(ctx, "deactivate metric provider", provider, false)
}

func (m *MetricProviders) set(ctx context.Context, op, provider string, active bool) error {
	if err := validation.ValidateIdentifier("metric provider", provider); err != nil {
		return controlerr.Validation(op, err)
	}
	cur, ok, err := m.get(ctx, provider)
	if err != nil {
		return err
	}
	if ok && cur.Active == active {
		return controlerr.Precondition(op, fmt.Errorf("%w: %s active=%t", ErrUnchanged, provider, active))
	}
	if err := m.put(ctx, provider, providerState{Active: active}); err != nil {
		return err
	}
	m.apply(provider, active)
	return nil
}

// Active reports the local view of a provider
func (m *MetricProviders) Active(provider string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[provider]
}

// Resync reloads one provider, or all of them when empty
func (m *MetricProviders) Resync(ctx context.Context, provider string) error {
	if provider != "" {
		cur, _, err := m.get(ctx, provider)
		if err != nil {
			return err
		}
		m.apply(provider, cur.Active)
		return nil
	}

	all, err := m.all(ctx)
	if err != nil {
		return err
	}
	m.mu.RLock()
	known := sortedKeys(m.active)
	m.mu.RUnlock()
	for _, p := range known {
		if _, ok := all[p]; !ok {
			m.apply(p, false)
		}
	}
	for _, p := range sortedKeys(all) {
		m.apply(p, all[p].Active)
	}
	return nil
}

func (m *MetricProviders) apply(provider string, active bool) {
	m.mu.Lock()
	prev, seen := m.active[provider]
	m.active[provider] = active
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetMetricProviderActive(provider, active)
	}
	if !seen || prev != active {
		m.logger.Info("Metric provider applied", logging.String("provider", provider), logging.Bool("active", active))
	}
}
