// Package resync propagates "something changed" hints between cluster
// members.
//
// A node that mutates shared state calls Broadcaster.Broadcast with the name
// of the participant that owns the state and the id of the changed object.
// Every other member routes the hint to its own participant, which re-reads
// the canonical store. The hint never carries state, so delivery is
// order-insensitive and safe to repeat.
package resync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/metrics"
)

// All is the object id meaning "everything this participant owns"
const All = ""

// Resync errors
var (
	ErrUnknownParticipant   = errors.New("unknown resync participant")
	ErrDuplicateParticipant = errors.New("resync participant already registered")
	ErrInvalidToken         = errors.New("invalid resync token")
	ErrMalformedMessage     = errors.New("malformed resync message")
	ErrPeerUnreachable      = errors.New("peer unreachable")
	ErrPeerRejected         = errors.New("peer rejected resync")
	ErrUnknownTransport     = errors.New("unknown resync transport")
)

// Participant is any subsystem whose state is shared across the cluster.
// Resync must be idempotent and must converge from the store, never from the
// message that triggered it.
type Participant interface {
	Name() string
	Resync(ctx context.Context, objectID string) error
}

// Registry holds the participants of one node
type Registry struct {
	mu           sync.RWMutex
	participants map[string]Participant

	metrics *metrics.Registry
	logger  logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(reg *metrics.Registry, logger logging.Logger) *Registry {
	return &Registry{
		participants: make(map[string]Participant),
		metrics:      reg,
		logger:       logging.OrNop(logger).With(logging.Component("resync")),
	}
}

// Register adds participants
func (r *Registry) Register(ps ...Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range ps {
		if _, exists := r.participants[p.Name()]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.Name())
		}
		r.participants[p.Name()] = p
	}
	return nil
}

// Get returns a participant by name
func (r *Registry) Get(name string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[name]
	return p, ok
}

// Names returns the registered participant names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.participants))
	for name := range r.participants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch routes an inbound hint to its participant
func (r *Registry) Dispatch(ctx context.Context, participant, objectID string) error {
	p, ok := r.Get(participant)
	if !ok {
		return controlerr.NotFound("dispatch resync", fmt.Errorf("%w: %s", ErrUnknownParticipant, participant))
	}

	start := time.Now()
	err := p.Resync(ctx, objectID)
	if r.metrics != nil {
		r.metrics.RecordInbound(participant, err)
	}
	if err != nil {
		r.logger.Warn("Resync failed",
			logging.Participant(participant),
			logging.ObjectID(objectID),
			logging.Error(err),
		)
		return err
	}

	r.logger.Debug("Resync applied",
		logging.Participant(participant),
		logging.ObjectID(objectID),
		logging.Latency(time.Since(start)),
	)
	return nil
}

// ResyncAll re-derives every participant's state from the store. Used at
// startup and for a full resync; one failing participant does not stop the
// others.
func (r *Registry) ResyncAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.Dispatch(ctx, name, All); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
