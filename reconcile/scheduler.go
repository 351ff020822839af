// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package reconcile

import (
	"context"
	"log/slog"
	"time"

	"cloudeng.io/certsync"
	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
)

// Runner represents a single reconciliation pass, it is implemented
// by Engine.
type Runner interface {
	Run(ctx context.Context) ([]Outcome, error)
}

// Scheduler runs reconciliation passes periodically.
type Scheduler struct {
	runner Runner
	opts   schedulerOptions
}

// SchedulerOption represents an option for NewScheduler.
type SchedulerOption func(o *schedulerOptions)

type schedulerOptions struct {
	refreshInterval time.Duration
	retryInterval   time.Duration
	runMetric       certsync.CounterVecInc
}

// WithRefreshInterval configures the scheduler to run a pass at the
// provided interval. The default is 1 hour.
func WithRefreshInterval(interval time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		o.refreshInterval = interval
	}
}

// WithRetryInterval configures the scheduler to retry at the provided
// interval when a pass fails to list the CDN's certificates or
// completes with domains that failed for transient reasons, see
// Transient. The default is 1 minute.
func WithRetryInterval(interval time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		o.retryInterval = interval
	}
}

// WithRunMetric configures the scheduler to increment the provided
// metric with the status of each pass, one of ok, failed or busy.
func WithRunMetric(metric certsync.CounterVecInc) SchedulerOption {
	return func(o *schedulerOptions) {
		o.runMetric = metric
	}
}

// NewScheduler returns a Scheduler for the provided Runner.
func NewScheduler(runner Runner, opts ...SchedulerOption) *Scheduler {
	var o schedulerOptions
	o.runMetric = certsync.NoopCounterVec
	for _, fn := range opts {
		fn(&o)
	}
	if o.refreshInterval <= 0 {
		o.refreshInterval = time.Hour
	}
	if o.retryInterval <= 0 {
		o.retryInterval = time.Minute
	}
	return &Scheduler{runner: runner, opts: o}
}

// Start runs a pass immediately and then periodically until ctx is
// canceled or the returned stop function is called. The stop function
// waits for any pass in progress to return, which the Engine bounds by
// its update timeout, so that an update is never abandoned before it
// is logged.
func (s *Scheduler) Start(ctx context.Context) (stop func() error) {
	runCtx, cancel := context.WithCancel(ctx)
	logger := ctxlog.Logger(ctx).With("component", "scheduler")
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.loop(runCtx, logger)
	}()
	return func() error {
		cancel()
		logger.Info("stopping scheduler")
		<-done
		logger.Info("scheduler stopped")
		return nil
	}
}

func (s *Scheduler) loop(ctx context.Context, logger *slog.Logger) {
	logger.Info("starting reconciliation loop",
		"interval", s.opts.refreshInterval.String(),
		"retry", s.opts.retryInterval.String())
	for {
		next := s.opts.refreshInterval
		if !s.runOnce(ctx, logger) {
			next = s.opts.retryInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

// runOnce returns false if the pass should be retried sooner than
// the refresh interval.
func (s *Scheduler) runOnce(ctx context.Context, logger *slog.Logger) bool {
	outcomes, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		logger.Info("reconciliation already in progress")
		s.opts.runMetric(ctx, "busy")
		return true
	case err != nil:
		if ctx.Err() == nil {
			logger.Error("reconciliation failed", "error", err)
		}
		s.opts.runMetric(ctx, "failed")
		return false
	}
	if err := Failures(outcomes); err != nil {
		logger.Warn("reconciliation completed with failures", "error", err)
		s.opts.runMetric(ctx, "failed")
		for _, o := range outcomes {
			if o.State == Failed && Transient(o.Err) {
				return false
			}
		}
		return true
	}
	s.opts.runMetric(ctx, "ok")
	return true
}
