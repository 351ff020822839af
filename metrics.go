// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package certsync provides plumbing shared by the certsync packages and
// command: metric function types that decouple instrumentation from any
// particular metrics library, and support for running the serve mode
// HTTP server with graceful shutdown.
package certsync

import "context"

// CounterInc is a function that increments a counter metric.
type CounterInc func(ctx context.Context)

// CounterVecInc is a function that increments a counter metric with the given labels.
type CounterVecInc func(ctx context.Context, labels ...string)

// NoopCounterVec is a CounterVecInc that does nothing.
func NoopCounterVec(context.Context, ...string) {}
