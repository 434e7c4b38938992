package participants

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/validation"
)

// PluginsName is the resync participant name for plugins
const PluginsName = "plugins"

// PluginState is the stored state of one plugin
type PluginState struct {
	Enabled  bool              `json:"enabled"`
	Settings map[string]string `json:"settings,omitempty"`
}

// PluginHook is told when the local enabled flag of a plugin flips
type PluginHook func(name string, enabled bool)

// Plugins tracks which plugins are enabled on this node
type Plugins struct {
	state[PluginState]

	mu      sync.RWMutex
	enabled map[string]bool
	hook    PluginHook
}

// NewPlugins creates the plugins participant. hook may be nil.
func NewPlugins(opts Options, hook PluginHook) *Plugins {
	return &Plugins{
		state:   newState[PluginState](PluginsName, opts),
		enabled: make(map[string]bool),
		hook:    hook,
	}
}

// Name implements resync.Participant
func (p *Plugins) Name() string { return PluginsName }

// Enable persists the plugin as enabled and broadcasts it
func (p *Plugins) Enable(ctx context.Context, name string) error {
	return p.setEnabled(ctx, "enable plugin", name, true)
}

// Disable persists the plugin as disabled and broadcasts it
func (p *Plugins) Disable(ctx context.Context, name string) error {
	return p.setEnabled(ctx, "disable plugin", name, false)
}

func (p *Plugins) setEnabled(ctx context.Context, op, name string, enabled bool) error {
	if err := validation.ValidateIdentifier("plugin name", name); err != nil {
		return controlerr.Validation(op, err)
	}
	cur, ok, err := p.get(ctx, name)
	if err != nil {
		return err
	}
	if ok && cur.Enabled == enabled {
		return controlerr.Precondition(op, fmt.Errorf("%w: plugin %s enabled=%t", ErrUnchanged, name, enabled))
	}
	cur.Enabled = enabled
	if err := p.put(ctx, name, cur); err != nil {
		return err
	}
	p.apply(name, enabled)
	return nil
}

// Configure replaces a plugin's settings and broadcasts it
func (p *Plugins) Configure(ctx context.Context, name string, settings map[string]string) error {
	const op = "configure plugin"
	if err := validation.ValidateIdentifier("plugin name", name); err != nil {
		return controlerr.Validation(op, err)
	}
	cur, _, err := p.get(ctx, name)
	if err != nil {
		return err
	}
	if maps.Equal(cur.Settings, settings) {
		return controlerr.Precondition(op, fmt.Errorf("%w: plugin %s settings", ErrUnchanged, name))
	}
	cur.Settings = maps.Clone(settings)
	return p.put(ctx, name, cur)
}

// Settings returns the stored settings of a plugin
func (p *Plugins) Settings(ctx context.Context, name string) (map[string]string, error) {
	cur, _, err := p.get(ctx, name)
	return cur.Settings, err
}

// Enabled reports the local view of a plugin
func (p *Plugins) Enabled(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled[name]
}

// EnabledPlugins lists locally enabled plugins, sorted
func (p *Plugins) EnabledPlugins() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	on := make(map[string]bool, len(p.enabled))
	for name, enabled := range p.enabled {
		if enabled {
			on[name] = true
		}
	}
	return sortedKeys(on)
}

// Resync reloads one plugin, or every plugin when name is empty
func (p *Plugins) Resync(ctx context.Context, name string) error {
	if name != "" {
		cur, _, err := p.get(ctx, name)
		if err != nil {
			return err
		}
		p.apply(name, cur.Enabled)
		return nil
	}

	all, err := p.all(ctx)
	if err != nil {
		return err
	}
	p.mu.RLock()
	known := sortedKeys(p.enabled)
	p.mu.RUnlock()

	for _, name := range known {
		if _, ok := all[name]; !ok {
			p.apply(name, false)
		}
	}
	for _, name := range sortedKeys(all) {
		p.apply(name, all[name].Enabled)
	}
	return nil
}

// apply updates the local view and fires the hook on a change
func (p *Plugins) apply(name string, enabled bool) {
	p.mu.Lock()
	prev := p.enabled[name]
	p.enabled[name] = enabled
	p.mu.Unlock()

	if prev == enabled {
		return
	}
	p.logger.Info("Plugin state applied", logging.String("plugin", name), logging.Bool("enabled", enabled))
	if p.hook != nil {
		p.hook(name, enabled)
	}
}
