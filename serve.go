// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package certsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/net/netutil"
)

// ServeWithShutdown runs srv.Serve in background and then waits for the
// context to be canceled. It will then attempt to shutdown the server
// within the specified grace period.
// If srv.BaseContext is nil it will be set to return ctx.
func ServeWithShutdown(ctx context.Context, ln net.Listener, srv *http.Server, grace time.Duration) error {
	if srv.BaseContext == nil {
		srv.BaseContext = func(_ net.Listener) context.Context {
			return ctx
		}
	}

	serveErrCh := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
		close(serveErrCh)
	}()

	select {
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("server %v, unexpected error %w", ln.Addr(), err)
		}
		return nil
	case <-ctx.Done():
		ctxlog.Logger(ctx).Info("server being shut down", "addr", ln.Addr().String(), "grace", grace)
	}

	// Use a new context tree for the shutdown, since the original
	// was only intended to signal starting the shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server running on %v, shutdown failed %s: %w", ln.Addr(), grace, err)
	}
	select {
	case err := <-serveErrCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewHTTPServer returns a listener and an *http.Server for addr, whose
// port defaults to 8080, with its BaseContext set to the supplied
// context. ErrorLog is set to log errors via the ctxlog package.
func NewHTTPServer(ctx context.Context, addr string, handler http.Handler) (net.Listener, *http.Server, error) {
	ap, err := netutil.ParseAddrDefaultPort(addr, "8080")
	if err != nil {
		return nil, nil, err
	}
	ln, err := net.Listen("tcp", netutil.HTTPServerAddr(ap))
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           handler,
		ReadHeaderTimeout: time.Minute,
		ErrorLog:          ctxlog.NewLogLogger(ctx, slog.LevelError),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	return ln, srv, nil
}

// HealthzHandler returns a handler that returns "ok" and a 200 status code.
func HealthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
}
