package task

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
)

// Sweeper runs CleanupStale on an interval
type Sweeper struct {
	manager   *Manager
	interval  time.Duration
	threshold time.Duration
	// gate, when set, must return true for a sweep to run
	gate   func() bool
	logger logging.Logger
}

// NewSweeper creates a sweeper. gate may be nil.
func NewSweeper(m *Manager, interval, threshold time.Duration, gate func() bool, logger logging.Logger) *Sweeper {
	return &Sweeper{
		manager:   m,
		interval:  interval,
		threshold: threshold,
		gate:      gate,
		logger:    logging.OrNop(logger).With(logging.Component("sweeper")),
	}
}

// Run sweeps until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Stale task sweeper started",
		logging.Duration("interval", s.interval),
		logging.Duration("threshold", s.threshold),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep and returns the cleaned ids
func (s *Sweeper) SweepOnce(ctx context.Context) []string {
	if s.gate != nil && !s.gate() {
		return nil
	}
	cleaned, err := s.manager.CleanupStale(ctx, s.threshold)
	if err != nil && !errors.Is(err, ErrNoStaleTasks) {
		s.logger.Error("Stale task sweep failed", logging.Error(err))
	}
	return cleaned
}
