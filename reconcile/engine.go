// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package reconcile provides support for reconciling the certificates held
// by a CDN with those issued and stored locally. Each certificate held
// by the CDN is compared with the newest local certificate for the same
// domain and is replaced if they differ. Every attempted replacement is
// recorded in a persistent log.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloudeng.io/certsync"
	"cloudeng.io/certsync/domainname"
	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
)

// Option represents an option for NewEngine.
type Option func(o *options)

type options struct {
	updateTimeout time.Duration
	dryRun        bool
	domains       domainname.Patterns
	outcomeMetric certsync.CounterVecInc
	now           func() time.Time
}

// WithUpdateTimeout sets the timeout for each update call made to the
// CDN. The default is 30 seconds.
func WithUpdateTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.updateTimeout = timeout
	}
}

// WithDryRun configures the engine to determine which certificates
// need to be updated without updating them.
func WithDryRun(dryRun bool) Option {
	return func(o *options) {
		o.dryRun = dryRun
	}
}

// WithDomains restricts reconciliation to the domains matched by the
// supplied patterns. All domains are reconciled if no patterns are
// specified.
func WithDomains(patterns domainname.Patterns) Option {
	return func(o *options) {
		o.domains = patterns
	}
}

// WithOutcomeMetric configures the engine to increment the provided
// metric for every outcome with the labels: domain, state.
func WithOutcomeMetric(metric certsync.CounterVecInc) Option {
	return func(o *options) {
		o.outcomeMetric = metric
	}
}

// WithClock sets the function used to timestamp outcomes.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Engine reconciles the certificates held by a CDN with local ones.
type Engine struct {
	mu      sync.Mutex
	cdn     CDN
	checker Checker
	log     Log
	opts    options
}

// NewEngine returns a new Engine.
func NewEngine(cdn CDN, checker Checker, log Log, opts ...Option) *Engine {
	e := &Engine{
		cdn:     cdn,
		checker: checker,
		log:     log,
	}
	e.opts.outcomeMetric = func(context.Context, ...string) {}
	for _, fn := range opts {
		fn(&e.opts)
	}
	if e.opts.updateTimeout <= 0 {
		e.opts.updateTimeout = 30 * time.Second
	}
	if e.opts.now == nil {
		e.opts.now = time.Now
	}
	return e
}

// Run performs a single reconciliation pass over all of the
// certificates held by the CDN and returns the outcome for each of them
// in the order returned by the CDN. Only a failure to list the
// certificates is returned as an error, all other failures are
// recorded in the returned outcomes. If ctx is canceled the pass stops
// before the next domain and the outcomes so far are returned along with
// the context's error. Run returns ErrBusy if another pass is in progress.
func (e *Engine) Run(ctx context.Context) ([]Outcome, error) {
	if !e.mu.TryLock() {
		return nil, ErrBusy
	}
	defer e.mu.Unlock()

	logger := ctxlog.Logger(ctx).With("component", "reconcile")
	records, err := e.cdn.List(ctx)
	if err != nil {
		logger.Error("failed to list certificates", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	logger.Info("listed certificates", "count", len(records), "dry_run", e.opts.dryRun)

	outcomes := make([]Outcome, 0, len(records))
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			logger.Warn("reconciliation interrupted", "completed", i, "remaining", len(records)-i)
			return outcomes, err
		}
		if !e.opts.domains.Matches(rec.Domain) {
			logger.Debug("domain not selected", "domain", rec.Domain)
			continue
		}
		o := e.reconcile(ctx, logger.With("domain", rec.Domain, "id", rec.ID), rec)
		e.opts.outcomeMetric(ctx, o.Domain, o.State.String())
		outcomes = append(outcomes, o)
	}
	updated, skipped, failed := Counts(outcomes)
	logger.Info("reconciliation complete", "updated", updated, "skipped", skipped, "failed", failed)
	return outcomes, nil
}

func (e *Engine) reconcile(ctx context.Context, logger *slog.Logger, rec Record) Outcome {
	o := Outcome{Domain: rec.Domain, RecordID: rec.ID}
	res, err := e.checker.Check(ctx, rec.Domain, rec.Cert, rec.CABundle)
	if err != nil {
		o.State, o.Reason, o.Err, o.Time = Failed, err.Error(), err, e.opts.now()
		logger.Error("failed to compare certificates", "error", err)
		return o
	}
	if res.UpToDate() {
		o.State, o.Reason, o.Time = Skipped, res.Status.String(), e.opts.now()
		logger.Info("certificate is up to date", "status", res.Status.String())
		return o
	}
	if e.opts.dryRun {
		o.State, o.Reason, o.Time = Skipped, "dry run", e.opts.now()
		logger.Info("certificate is stale, not updating for a dry run", "local_cert", res.Bundle.CertFile)
		return o
	}

	logger.Info("certificate is stale, updating", "local_cert", res.Bundle.CertFile, "local_key", res.Bundle.KeyFile)
	err = e.update(ctx, rec.ID, Upload{
		Cert:     res.Bundle.Cert,
		Key:      res.Bundle.Key,
		CABundle: res.Bundle.CABundle,
	})
	o.Time = e.opts.now()
	if err != nil {
		o.State = Failed
		o.Reason, o.Err = classify(err)
		logger.Error("update failed", "reason", o.Reason, "error", err)
	} else {
		o.State = Updated
		logger.Info("updated successfully")
	}
	if err := e.log.Append(ctx, o.Domain, o.Success(), o.Time); err != nil {
		o.LogErr = err
		logger.Error("failed to record outcome", "error", err)
	}
	return o
}

// update is run to completion, or until its timeout expires, even if
// ctx is canceled so that a domain is never left partially updated
// and unrecorded.
func (e *Engine) update(ctx context.Context, id string, upload Upload) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.updateTimeout)
	defer cancel()
	return e.cdn.Update(ctx, id, upload)
}

// classify returns a short description of an update failure and
// an error that wraps ErrUpdate, or ErrTimeout.
func classify(err error) (string, error) {
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.Message, fmt.Errorf("%w: %w", ErrUpdate, err)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, ErrUnexpectedResponse):
		return "unexpected response", fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	return err.Error(), fmt.Errorf("%w: %w", ErrUpdate, err)
}
