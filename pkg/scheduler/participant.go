package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
)

// Name implements resync.Participant
func (s *Scheduler) Name() string { return ParticipantName }

// Resync converges the local engine registration of id with the store. An
// empty id reconverges every spec and drops registrations the store no
// longer knows.
func (s *Scheduler) Resync(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		spec, err := s.repo.Get(ctx, id)
		if errors.Is(err, ErrScheduleNotFound) {
			s.engine.Unregister(id)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load schedule %s: %w", id, err)
		}
		s.converge(spec)
		return nil
	}

	specs, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedules: %w", err)
	}
	known := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		known[spec.ID] = struct{}{}
		s.converge(spec)
	}
	for _, registered := range s.engine.Registered() {
		if _, ok := known[registered]; !ok {
			s.engine.Unregister(registered)
		}
	}

	s.logger.Debug("Schedules reconverged", logging.Count(len(specs)))
	return nil
}
