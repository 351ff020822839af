// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package httpapi provides the HTTP endpoints used to run certsync as
// a long running service:
//
//	GET  /healthz    liveness check
//	GET  /log        the log of update attempts, ?format=json for JSON
//	POST /reconcile  run a reconciliation pass and return its outcomes
//	GET  /metrics    metrics, if configured
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"cloudeng.io/certsync"
	"cloudeng.io/certsync/outcomelog"
	"cloudeng.io/certsync/reconcile"
	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Log represents read access to the log of update attempts.
type Log interface {
	Dump(w io.Writer) error
	Entries() ([]outcomelog.Entry, error)
}

// Middleware wraps a handler, typically to add access control.
type Middleware func(http.Handler) http.Handler

// Option represents an option for New.
type Option func(o *options)

type options struct {
	metrics   http.Handler
	metricsMW []Middleware
	reconcile []Middleware
	log       []Middleware
}

// WithMetrics serves the specified handler on /metrics, wrapped by
// the supplied middleware.
func WithMetrics(handler http.Handler, mw ...Middleware) Option {
	return func(o *options) {
		o.metrics = handler
		o.metricsMW = mw
	}
}

// WithReconcileMiddleware adds middleware to the /reconcile endpoint,
// the first middleware specified is outermost.
func WithReconcileMiddleware(mw ...Middleware) Option {
	return func(o *options) {
		o.reconcile = append(o.reconcile, mw...)
	}
}

// WithLogMiddleware adds middleware to the /log endpoint.
func WithLogMiddleware(mw ...Middleware) Option {
	return func(o *options) {
		o.log = append(o.log, mw...)
	}
}

func chain(h http.Handler, mw []Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// New returns an http.Handler that serves the certsync endpoints.
func New(runner reconcile.Runner, log Log, opts ...Option) http.Handler {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", certsync.HealthzHandler())
	mux.Handle("GET /log", chain(&logHandler{log: log}, o.log))
	mux.Handle("POST /reconcile", chain(&reconcileHandler{runner: runner}, o.reconcile))
	if o.metrics != nil {
		mux.Handle("GET /metrics", chain(o.metrics, o.metricsMW))
	}
	return mux
}

type logHandler struct {
	log Log
}

type logEntry struct {
	Domain  string    `json:"domain"`
	Success bool      `json:"success"`
	Time    time.Time `json:"time"`
}

func (h *logHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.URL.Query().Get("format") == "json" {
		entries, err := h.log.Entries()
		if err != nil && !errors.Is(err, outcomelog.ErrNoLog) {
			// Malformed lines are reported but do not prevent the
			// remaining entries from being returned.
			ctxlog.Logger(ctx).Warn("httpapi: failed to parse log", "component", "httpapi", "error", err)
		}
		out := make([]logEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, logEntry{Domain: e.Domain, Success: e.Success, Time: e.Time})
		}
		writeJSON(ctx, w, http.StatusOK, out)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	err := h.log.Dump(w)
	switch {
	case errors.Is(err, outcomelog.ErrNoLog):
		http.Error(w, "No log file exists", http.StatusNotFound)
	case err != nil:
		ctxlog.Error(ctx, "httpapi: failed to read log", "component", "httpapi", "error", err)
		http.Error(w, "failed to read log", http.StatusInternalServerError)
	}
}

type reconcileHandler struct {
	runner reconcile.Runner
}

type outcome struct {
	Domain   string    `json:"domain"`
	RecordID string    `json:"record_id"`
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Time     time.Time `json:"time"`
	Error    string    `json:"error,omitempty"`
	LogError string    `json:"log_error,omitempty"`
}

type reconcileResponse struct {
	Updated  int       `json:"updated"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Error    string    `json:"error,omitempty"`
	Outcomes []outcome `json:"outcomes"`
}

func newReconcileResponse(outcomes []reconcile.Outcome, err error) reconcileResponse {
	var resp reconcileResponse
	resp.Updated, resp.Skipped, resp.Failed = reconcile.Counts(outcomes)
	if err != nil {
		resp.Error = err.Error()
	}
	resp.Outcomes = make([]outcome, 0, len(outcomes))
	for _, o := range outcomes {
		ro := outcome{
			Domain:   o.Domain,
			RecordID: o.RecordID,
			State:    o.State.String(),
			Reason:   o.Reason,
			Time:     o.Time,
		}
		if o.Err != nil {
			ro.Error = o.Err.Error()
		}
		if o.LogErr != nil {
			ro.LogError = o.LogErr.Error()
		}
		resp.Outcomes = append(resp.Outcomes, ro)
	}
	return resp
}

func (h *reconcileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	outcomes, err := h.runner.Run(ctx)
	status := http.StatusOK
	switch {
	case errors.Is(err, reconcile.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, reconcile.ErrFetch):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case err != nil:
		status = http.StatusInternalServerError
	}
	if err != nil {
		ctxlog.Info(ctx, "httpapi: reconciliation did not complete", "component", "httpapi", "error", err)
	}
	writeJSON(ctx, w, status, newReconcileResponse(outcomes, err))
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, v, jsontext.WithIndent("  ")); err != nil {
		ctxlog.Error(ctx, "httpapi: failed to write response", "component", "httpapi", "error", err)
	}
}
