package cluster

import (
	"sync"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// Fencer is told when the local node must stop (or may resume) taking part
// in cluster-wide coordination
type Fencer interface {
	Fence(reason string)
	Unfence()
	Fenced() bool
}

// FenceState is the default Fencer. Components that run coordination work
// (the scheduler, the sweeper) register OnChange callbacks to stop and start.
type FenceState struct {
	mu       sync.RWMutex
	fenced   bool
	reason   string
	handlers []func(fenced bool, reason string)

	metrics *metrics.Registry
	logger  logging.Logger
}

// NewFenceState creates an unfenced state
func NewFenceState(reg *metrics.Registry, logger logging.Logger) *FenceState {
	return &FenceState{
		metrics: reg,
		logger:  logging.OrNop(logger).With(logging.Component("fencing")),
	}
}

// OnChange registers a callback run after every fenced/unfenced transition
func (f *FenceState) OnChange(fn func(fenced bool, reason string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

// Fence marks the node fenced. Repeated calls only update the reason.
func (f *FenceState) Fence(reason string) {
	f.set(true, reason)
}

// Unfence clears the fence
func (f *FenceState) Unfence() {
	f.set(false, "")
}

func (f *FenceState) set(fenced bool, reason string) {
	f.mu.Lock()
	changed := f.fenced != fenced
	f.fenced = fenced
	f.reason = reason
	handlers := append([]func(bool, string){}, f.handlers...)
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.SetFenced(fenced)
	}
	if !changed {
		return
	}

	if fenced {
		f.logger.Warn("Node fenced from cluster coordination", logging.String("reason", reason))
	} else {
		f.logger.Info("Node fence lifted")
	}
	for _, fn := range handlers {
		fn(fenced, reason)
	}
}

// Fenced reports whether the node is fenced
func (f *FenceState) Fenced() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fenced
}

// Reason returns why the node was fenced, empty when it is not
func (f *FenceState) Reason() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reason
}
