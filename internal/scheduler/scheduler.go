// Package scheduler runs periodic jobs such as training and reconciliation.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Job is a unit of periodic work. A job with a non-positive Interval is
// disabled.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each enabled job on its own ticker. A failing run is logged
// and retried at the next tick.
type Scheduler struct {
	clock  clockwork.Clock
	logger *slog.Logger
	jobs   []Job
}

// New creates a Scheduler over the given clock.
func New(clock clockwork.Clock, logger *slog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{clock: clock, logger: logger, jobs: jobs}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Info("job disabled", "job", job.Name)
			continue
		}
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.logger.Info("job scheduled", "job", job.Name, "interval", job.Interval)
	ticker := s.clock.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			start := s.clock.Now()
			if err := job.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("job failed", "job", job.Name, "error", err)
				continue
			}
			s.logger.Debug("job finished", "job", job.Name, "duration", s.clock.Since(start))
		}
	}
}
