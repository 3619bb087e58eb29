// Package publisher runs the periodic publish cycle that snapshots the
// canonical store into the distributable artifact set (JSONL, GeoJSON,
// SQLite) and exports it via git, guarded by a monotonic row-count ratchet.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler wraps gocron and fires one publish cycle per tick, in singleton
// mode so a slow cycle is never started again on top of itself.
type Scheduler struct {
	cron   gocron.Scheduler
	runner *Runner
	logger *zap.Logger
}

// NewScheduler builds a Scheduler that runs runner.Run once every interval.
func NewScheduler(interval time.Duration, runner *Runner, logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("publisher: failed to create scheduler: %w", err)
	}

	sched := &Scheduler{cron: s, runner: runner, logger: logger.Named("publisher")}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if err := runner.Run(ctx); err != nil {
				sched.logger.Error("publish cycle failed", zap.Error(err))
			}
		}),
		gocron.WithTags("publish-cycle"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("publisher: failed to schedule cycle: %w", err)
	}
	return sched, nil
}

// Start begins firing the scheduled cycle.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for any in-flight cycle to finish before returning.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("publisher: scheduler shutdown error: %w", err)
	}
	s.logger.Info("publisher scheduler stopped")
	return nil
}
