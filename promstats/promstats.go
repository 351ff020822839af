// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package promstats provides Prometheus implementations of the
// metric functions used by the certsync packages.
package promstats

import (
	"context"
	"fmt"
	"net/http"

	"cloudeng.io/logging/ctxlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is the namespace used for all metrics.
const DefaultNamespace = "certsync"

// Metrics holds the counters maintained by certsync and the registry
// that they are registered with.
type Metrics struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	runs     *prometheus.CounterVec
	requests *prometheus.CounterVec
	denied   prometheus.Counter
	unauth   prometheus.Counter
}

// New creates and registers the certsync metrics with a new registry.
func New(namespace string) *Metrics {
	if len(namespace) == 0 {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Outcome of reconciling each domain.",
		}, []string{"domain", "state"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Scheduled reconciliation passes by status.",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cdn_requests_total",
			Help:      "Requests made to the CDN API by operation and status.",
		}, []string{"operation", "status"}),
		denied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acl_denied_total",
			Help:      "Requests denied by the IP access control list.",
		}),
		unauth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_denied_total",
			Help:      "Requests denied for lack of a valid bearer token.",
		}),
	}
	m.registry.MustRegister(m.outcomes, m.runs, m.requests, m.denied, m.unauth)
	return m
}

func inc(ctx context.Context, vec *prometheus.CounterVec, labels []string) {
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		ctxlog.Error(ctx, "promstats: invalid labels", "labels", labels, "error", err)
		return
	}
	c.Inc()
}

// Outcome is a certsync.CounterVecInc for the labels: domain, state.
func (m *Metrics) Outcome(ctx context.Context, labels ...string) {
	inc(ctx, m.outcomes, labels)
}

// Run is a certsync.CounterVecInc for the label: status.
func (m *Metrics) Run(ctx context.Context, labels ...string) {
	inc(ctx, m.runs, labels)
}

// CDNRequest is a certsync.CounterVecInc for the labels: operation, status.
func (m *Metrics) CDNRequest(ctx context.Context, labels ...string) {
	inc(ctx, m.requests, labels)
}

// ACLDenied is a certsync.CounterInc.
func (m *Metrics) ACLDenied(context.Context) {
	m.denied.Inc()
}

// AuthDenied is a certsync.CounterInc.
func (m *Metrics) AuthDenied(context.Context) {
	m.unauth.Inc()
}

// Registry returns the registry used for all of the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the metrics to the specified file in the
// text format used by the node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("promstats: %w", err)
	}
	return nil
}
