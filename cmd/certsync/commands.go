// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"cloudeng.io/certsync"
	"cloudeng.io/certsync/certcmp"
	"cloudeng.io/certsync/certstore"
	"cloudeng.io/certsync/config"
	"cloudeng.io/certsync/domainname"
	"cloudeng.io/certsync/httpapi"
	"cloudeng.io/certsync/maxcdn"
	"cloudeng.io/certsync/outcomelog"
	"cloudeng.io/certsync/promstats"
	"cloudeng.io/certsync/reconcile"
	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/sync/errgroup"
)

type CommonFlags struct {
	Config   string `subcmd:"config,$HOME/.certsync.yaml,'certsync configuration file'"`
	LogLevel string `subcmd:"log-level,info,'log level, one of debug, info, warn or error'"`
}

type reconcileFlags struct {
	CommonFlags
	DryRun          bool   `subcmd:"dry-run,false,'determine which certificates need to be updated without updating them'"`
	Domains         string `subcmd:"domains,,'comma separated domain patterns to reconcile, overrides the configuration file'"`
	MetricsTextfile string `subcmd:"metrics-textfile,,'write metrics to this file in the prometheus text format, overrides the configuration file'"`
}

type logFlags struct {
	CommonFlags
	LogFile string `subcmd:"log-file,,'the log file to display, overrides the configuration file'"`
}

type serveFlags struct {
	CommonFlags
	Address string `subcmd:"address,,'address to listen on, overrides the configuration file'"`
}

type commands struct {
	out    io.Writer
	stderr io.Writer
	// onListen, if set, is called with the address that serve is
	// listening on.
	onListen func(net.Addr)
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

func (c *commands) withLogger(ctx context.Context, level string) (context.Context, error) {
	l, err := parseLevel(level)
	if err != nil {
		return ctx, err
	}
	w := c.stderr
	if w == nil {
		w = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
	return ctxlog.WithLogger(ctx, logger), nil
}

func readConfig(ctx context.Context, fl CommonFlags) (config.Config, error) {
	path := os.ExpandEnv(fl.Config)
	cfg, err := config.ReadFile(path)
	if err != nil {
		return config.Config{}, err
	}
	ctxlog.Debug(ctx, "configuration loaded", "file", path)
	return cfg, nil
}

// runtime holds the components shared by the reconcile and serve commands.
type runtime struct {
	cfg     config.Config
	metrics *promstats.Metrics
	log     *outcomelog.Log
	engine  *reconcile.Engine
}

func newRuntime(cfg config.Config, dryRun bool, domains domainname.Patterns) (*runtime, error) {
	metrics := promstats.New(cfg.Metrics.Namespace)
	opts := append(cfg.CDN.Options(), maxcdn.WithRequestMetric(metrics.CDNRequest))
	client, err := maxcdn.NewClient(cfg.CDN.BaseURL, cfg.CDN.Alias, opts...)
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		domains = cfg.DomainPatterns()
	}
	log := outcomelog.New(cfg.LogFile)
	scanner := certstore.NewScanner(cfg.Store)
	engine := reconcile.NewEngine(client, certcmp.New(scanner), log,
		reconcile.WithDryRun(dryRun),
		reconcile.WithDomains(domains),
		reconcile.WithUpdateTimeout(cfg.CDN.UpdateTimeout),
		reconcile.WithOutcomeMetric(metrics.Outcome),
	)
	return &runtime{
		cfg:     cfg,
		metrics: metrics,
		log:     log,
		engine:  engine,
	}, nil
}

func (c *commands) reconcile(ctx context.Context, values any, _ []string) error {
	fl := values.(*reconcileFlags)
	ctx, done := signal.NotifyContext(ctx, os.Interrupt)
	defer done()
	ctx, err := c.withLogger(ctx, fl.LogLevel)
	if err != nil {
		return err
	}
	cfg, err := readConfig(ctx, fl.CommonFlags)
	if err != nil {
		return err
	}
	var patterns domainname.Patterns
	if len(fl.Domains) > 0 {
		patterns = domainname.NewPatterns(strings.Split(fl.Domains, ",")...)
	}
	rt, err := newRuntime(cfg, fl.DryRun, patterns)
	if err != nil {
		return err
	}
	outcomes, err := rt.engine.Run(ctx)
	for _, o := range outcomes {
		fmt.Fprintln(c.out, o.String())
	}
	var errs errors.M
	errs.Append(err)
	errs.Append(reconcile.Failures(outcomes))
	textfile := cfg.Metrics.Textfile
	if len(fl.MetricsTextfile) > 0 {
		textfile = os.ExpandEnv(fl.MetricsTextfile)
	}
	if len(textfile) > 0 {
		errs.Append(rt.metrics.WriteTextfile(textfile))
	}
	return errs.Err()
}

func (c *commands) log(ctx context.Context, values any, _ []string) error {
	fl := values.(*logFlags)
	ctx, err := c.withLogger(ctx, fl.LogLevel)
	if err != nil {
		return err
	}
	path := os.ExpandEnv(fl.LogFile)
	if len(path) == 0 {
		cfg, err := readConfig(ctx, fl.CommonFlags)
		if err != nil {
			return err
		}
		path = cfg.LogFile
	}
	err = outcomelog.New(path).Dump(c.out)
	if errors.Is(err, outcomelog.ErrNoLog) {
		fmt.Fprintln(c.out, "No log file exists")
		return nil
	}
	return err
}

// handler returns the serve command's http.Handler, guarding the
// reconcile endpoint with the configured access control list and
// bearer token authentication, and the log and metrics endpoints with
// the access control list only.
func (rt *runtime) handler() (http.Handler, error) {
	acl, err := rt.cfg.Serve.ACL.Middleware(rt.metrics.ACLDenied)
	if err != nil {
		return nil, err
	}
	guards := []httpapi.Middleware{acl}
	if auth := rt.cfg.Serve.Auth; auth.Enabled() {
		validator, err := auth.NewValidator()
		if err != nil {
			return nil, err
		}
		guards = append(guards, func(h http.Handler) http.Handler {
			return validator.Handler(h, rt.metrics.AuthDenied)
		})
	}
	return httpapi.New(rt.engine, rt.log,
		httpapi.WithMetrics(rt.metrics.Handler(), acl),
		httpapi.WithLogMiddleware(acl),
		httpapi.WithReconcileMiddleware(guards...),
	), nil
}

func (c *commands) serve(ctx context.Context, values any, _ []string) error {
	fl := values.(*serveFlags)
	ctx, done := signal.NotifyContext(ctx, os.Interrupt)
	defer done()
	ctx, err := c.withLogger(ctx, fl.LogLevel)
	if err != nil {
		return err
	}
	cfg, err := readConfig(ctx, fl.CommonFlags)
	if err != nil {
		return err
	}
	if len(fl.Address) > 0 {
		cfg.Serve.Address = fl.Address
	}
	rt, err := newRuntime(cfg, false, nil)
	if err != nil {
		return err
	}
	handler, err := rt.handler()
	if err != nil {
		return err
	}
	ln, srv, err := certsync.NewHTTPServer(ctx, cfg.Serve.Address, handler)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "listening on: %v\n", ln.Addr())
	if c.onListen != nil {
		c.onListen(ln.Addr())
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Serve.RefreshInterval > 0 {
		stop := reconcile.NewScheduler(rt.engine,
			reconcile.WithRefreshInterval(cfg.Serve.RefreshInterval),
			reconcile.WithRetryInterval(cfg.Serve.RetryInterval),
			reconcile.WithRunMetric(rt.metrics.Run),
		).Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			return stop()
		})
	}
	g.Go(func() error {
		return certsync.ServeWithShutdown(ctx, ln, srv, cfg.ShutdownGrace())
	})
	return g.Wait()
}
