package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires a backup function on a cron schedule. A single scheduler
// owns the running flag for its configuration: a tick that fires while the
// previous run is still active is skipped with a warning, so no two runs of
// the same configuration ever overlap.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	logger   *zap.Logger
	running  atomic.Bool
	wg       sync.WaitGroup

	onSkip func()
	now    func() time.Time
}

// New parses a standard 5-field cron expression and returns a scheduler.
func New(expr string, logger *zap.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Scheduler{
		expr:     expr,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// OnSkip registers a callback invoked whenever a tick is skipped due to an
// overlapping run.
func (s *Scheduler) OnSkip(fn func()) {
	s.onSkip = fn
}

// Run blocks, firing fn at each schedule tick, until ctx is cancelled. An
// in-flight run is allowed to finish (and drain) before Run returns.
func (s *Scheduler) Run(ctx context.Context, fn func(context.Context)) error {
	s.logger.Info("Scheduler started", zap.String("schedule", s.expr))

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler stopping, waiting for in-flight run")
			s.wg.Wait()
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, fn)
	}
}

// fire starts fn unless the previous run is still active.
func (s *Scheduler) fire(ctx context.Context, fn func(context.Context)) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous backup still running, skipping schedule tick",
			zap.String("schedule", s.expr))
		if s.onSkip != nil {
			s.onSkip()
		}
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		fn(ctx)
	}()
	return true
}

// Running reports whether a run is currently in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}
