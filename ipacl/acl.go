// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package ipacl restricts access to the certsync HTTP endpoints to a
// list of IP addresses and CIDR prefixes.
package ipacl

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"cloudeng.io/certsync"
	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/net/netutil"
	"github.com/gaissmai/bart"
)

// Client address sources.
const (
	SourceDirect = "direct"
	SourceProxy  = "proxy"
)

// Config represents the configuration of an access control list.
type Config struct {
	Addresses []string `yaml:"addresses" cmd:"ip addresses or cidr prefixes allowed access"`
	// Source determines where the client address is obtained from,
	// the connection itself (direct, the default) or the last entry
	// of the X-Forwarded-For header appended by a proxy (proxy).
	Source string `yaml:"source" cmd:"direct or proxy"`
}

// Enabled returns true if any addresses are configured.
func (c Config) Enabled() bool {
	return len(c.Addresses) > 0
}

// Validate returns an error if the configuration is invalid.
func (c Config) Validate() error {
	if _, err := c.Extractor(); err != nil {
		return err
	}
	for _, addr := range c.Addresses {
		if _, err := netutil.ParseAddrOrPrefix(addr); err != nil {
			return fmt.Errorf("ipacl: %q: %w", addr, err)
		}
	}
	return nil
}

// Extractor returns the AddressExtractor for the configured Source.
func (c Config) Extractor() (AddressExtractor, error) {
	switch strings.ToLower(c.Source) {
	case "", SourceDirect:
		return RemoteAddr, nil
	case SourceProxy:
		return ForwardedFor, nil
	}
	return nil, fmt.Errorf("ipacl: unsupported address source %q", c.Source)
}

// Middleware returns a function that wraps a handler with the configured
// access control list. The returned function leaves handlers unchanged
// if no addresses are configured.
func (c Config) Middleware(denied certsync.CounterInc) (func(http.Handler) http.Handler, error) {
	if !c.Enabled() {
		return func(h http.Handler) http.Handler { return h }, nil
	}
	acl, err := New(c.Addresses...)
	if err != nil {
		return nil, err
	}
	extractor, err := c.Extractor()
	if err != nil {
		return nil, err
	}
	return func(h http.Handler) http.Handler {
		return acl.Handler(h, extractor, denied)
	}, nil
}

// ACL represents an IP address access control list.
type ACL struct {
	table *bart.Lite
}

// New returns an ACL that allows the specified addresses, each of which
// may be a single address or a CIDR prefix.
func New(addrs ...string) (*ACL, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("ipacl: no addresses provided")
	}
	table := &bart.Lite{}
	for _, addr := range addrs {
		p, err := netutil.ParseAddrOrPrefix(addr)
		if err != nil {
			return nil, fmt.Errorf("ipacl: %q: %w", addr, err)
		}
		table.Insert(p)
	}
	return &ACL{table: table}, nil
}

// Allowed returns true if ip is allowed by the ACL.
func (a *ACL) Allowed(ip netip.Addr) bool {
	return a.table.Contains(ip.Unmap())
}

// AddressExtractor returns the client address for a request, the first
// return value is the unparsed address for use in log messages.
type AddressExtractor func(r *http.Request) (string, netip.Addr, error)

func parseAddr(addr string) (netip.Addr, error) {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr(), nil
	}
	return netip.ParseAddr(addr)
}

// RemoteAddr returns the address of the connection that the request
// was received on.
func RemoteAddr(r *http.Request) (string, netip.Addr, error) {
	ip, err := parseAddr(r.RemoteAddr)
	return r.RemoteAddr, ip, err
}

// ForwardedFor returns the last address in the X-Forwarded-For header,
// which is the one appended by the proxy immediately in front of
// the server.
func ForwardedFor(r *http.Request) (string, netip.Addr, error) {
	xff := r.Header.Values("X-Forwarded-For")
	if len(xff) == 0 {
		return "", netip.Addr{}, fmt.Errorf("no X-Forwarded-For header")
	}
	last := xff[len(xff)-1]
	if idx := strings.LastIndexByte(last, ','); idx >= 0 {
		last = last[idx+1:]
	}
	last = strings.TrimSpace(last)
	ip, err := parseAddr(last)
	return last, ip, err
}

// Handler returns an http.Handler that responds with 403 Forbidden to
// requests whose client address is not allowed by the ACL and passes all
// others to handler. denied, if not nil, is incremented for every
// forbidden request.
func (a *ACL) Handler(handler http.Handler, extractor AddressExtractor, denied certsync.CounterInc) http.Handler {
	if extractor == nil {
		extractor = RemoteAddr
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ip, err := extractor(r)
		if err == nil && a.Allowed(ip) {
			handler.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		if err != nil {
			ctxlog.Info(ctx, "ipacl: failed to determine client address", "component", "ipacl", "addr", raw, "path", r.URL.Path, "error", err)
		} else {
			ctxlog.Info(ctx, "ipacl: address not allowed", "component", "ipacl", "addr", raw, "path", r.URL.Path)
		}
		if denied != nil {
			denied(ctx)
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	})
}
