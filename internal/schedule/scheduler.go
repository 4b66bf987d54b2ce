// Package schedule owns the wall-clock triggers for the maintenance jobs.
// The invocation wrapper enforces the failure-isolation contract in one
// place: a panicking or erroring job is logged and returns to waiting, and
// never takes the process or its sibling jobs down with it.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/meridianweb/siteops/internal/config"
	"github.com/meridianweb/siteops/internal/metrics"
)

// Action is one maintenance routine. It performs its own error handling and
// reports only the terminal outcome; anything it lets escape is caught by
// the scheduler's wrapper.
type Action func(ctx context.Context) error

// Scheduler registers cron-driven jobs and runs them until shutdown.
type Scheduler struct {
	inner   gocron.Scheduler
	logger  *slog.Logger
	metrics *metrics.Recorder

	ctx context.Context
}

// New builds a stopped scheduler; call Register for each job, then Start.
func New(logger *slog.Logger, recorder *metrics.Recorder) (*Scheduler, error) {
	inner, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("schedule: new scheduler: %w", err)
	}
	return &Scheduler{
		inner:   inner,
		logger:  logger,
		metrics: recorder,
		ctx:     context.Background(),
	}, nil
}

// Register adds a job under a 5-field cron expression. Jobs default to
// skip-if-running: when the previous invocation is still in flight at the
// next trigger, the trigger is suppressed and logged rather than stacked.
// cfg.AllowOverlap opts back into concurrent invocations.
func (s *Scheduler) Register(name string, cfg config.JobConfig, action Action) error {
	if !cfg.Enabled {
		s.logger.Info("job disabled", slog.String("job", name))
		return nil
	}
	if cfg.Cron == "" {
		return fmt.Errorf("schedule: job %s: empty cron expression", name)
	}
	_, err := s.inner.NewJob(
		gocron.CronJob(cfg.Cron, false),
		gocron.NewTask(s.wrap(name, cfg.AllowOverlap, action)),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("schedule: job %s: %w", name, err)
	}
	s.logger.Info("job registered", slog.String("job", name), slog.String("cron", cfg.Cron))
	return nil
}

// Start begins firing registered jobs. ctx becomes the parent context of
// every invocation, so canceling it unblocks in-flight work during shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.inner.Start()
}

// Shutdown stops the scheduler, waiting up to timeout for running jobs to
// complete before giving up.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- s.inner.Shutdown()
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("schedule: shutdown: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("schedule: shutdown timed out after %s", timeout)
	}
}

// wrap produces the invocation envelope: overlap suppression, panic
// recovery, outcome logging, and run metrics.
func (s *Scheduler) wrap(name string, allowOverlap bool, action Action) func() {
	var running atomic.Bool
	logger := s.logger.With(slog.String("job", name))
	return func() {
		if !allowOverlap {
			if !running.CompareAndSwap(false, true) {
				logger.Warn("previous invocation still running, skipping trigger")
				s.metrics.ObserveJobRun(name, metrics.JobSkipped, 0)
				return
			}
			defer running.Store(false)
		}

		start := time.Now()
		err := s.invoke(action)
		duration := time.Since(start)
		if err != nil {
			logger.Error("job failed", slog.Any("error", err), slog.Duration("duration", duration))
			s.metrics.ObserveJobRun(name, metrics.JobFailed, duration)
			return
		}
		logger.Info("job completed", slog.Duration("duration", duration))
		s.metrics.ObserveJobRun(name, metrics.JobSucceeded, duration)
	}
}

// invoke runs the action, converting a panic into an error so one bad job
// never crashes the host process or suppresses its next scheduled run.
func (s *Scheduler) invoke(action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: job panicked: %v", r)
		}
	}()
	return action(s.ctx)
}
