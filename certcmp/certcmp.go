// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package certcmp provides support for determining whether a certificate
// held by a remote provider matches the one available locally.
package certcmp

import (
	"context"
	"regexp"
	"strings"

	"cloudeng.io/certsync/certstore"
	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
)

var lineBreak = regexp.MustCompile(`\r\n|\n|\r`)

// Lines splits text into lines after trimming leading and trailing
// whitespace. Any of \n, \r\n or \r terminates a line.
func Lines(text string) []string {
	return lineBreak.Split(strings.TrimSpace(text), -1)
}

// LinesEqual returns true if a and b have the same number of lines and
// every pair of lines is identical. Line endings and leading and
// trailing whitespace are ignored, whitespace within the text is not.
func LinesEqual(a, b string) bool {
	la, lb := Lines(a), Lines(b)
	if len(la) != len(lb) {
		return false
	}
	for i := range la {
		if la[i] != lb[i] {
			return false
		}
	}
	return true
}

// Status represents the outcome of comparing a remote certificate
// with the local one.
type Status int

const (
	// Current indicates that the remote certificate and CA bundle
	// match the local ones.
	Current Status = iota
	// Stale indicates that the remote certificate or CA bundle differ
	// from the local ones.
	Stale
	// NoLocalBundle indicates that there is no usable local certificate
	// and key, in which case the remote certificate is treated as
	// being current.
	NoLocalBundle
)

func (s Status) String() string {
	switch s {
	case Current:
		return "current"
	case Stale:
		return "stale"
	case NoLocalBundle:
		return "no-local-bundle"
	}
	return "unknown"
}

// Result is returned by Comparator.Check.
type Result struct {
	Status Status
	// Bundle is the local bundle, set only when Status is Stale.
	Bundle certstore.Bundle
}

// UpToDate returns true if no update of the remote certificate is
// required.
func (r Result) UpToDate() bool {
	return r.Status != Stale
}

// Finder represents the ability to locate the local bundle for a domain,
// it is implemented by certstore.Scanner.
type Finder interface {
	Find(ctx context.Context, domain string) (certstore.Bundle, error)
}

// Comparator compares remote certificates with local ones.
type Comparator struct {
	finder Finder
}

// New returns a Comparator that uses finder to locate local bundles.
func New(finder Finder) *Comparator {
	return &Comparator{finder: finder}
}

// Check compares the remote certificate and CA bundle for domain with
// the local ones. The lack of a usable local bundle is not an error,
// rather a Result with Status NoLocalBundle is returned since there is
// nothing to replace the remote certificate with.
func (c *Comparator) Check(ctx context.Context, domain, remoteCert, remoteCABundle string) (Result, error) {
	local, err := c.finder.Find(ctx, domain)
	if err != nil {
		if errors.Is(err, certstore.ErrNotFound) {
			ctxlog.Info(ctx, "no local certificate to compare with", "domain", domain)
			return Result{Status: NoLocalBundle}, nil
		}
		return Result{}, err
	}
	certEqual := LinesEqual(remoteCert, local.Cert)
	caEqual := LinesEqual(remoteCABundle, local.CABundle)
	if certEqual && caEqual {
		return Result{Status: Current}, nil
	}
	ctxlog.Info(ctx, "remote certificate differs from local",
		"domain", domain,
		"cert_equal", certEqual,
		"ca_bundle_equal", caEqual,
		"local_cert", local.CertFile)
	return Result{Status: Stale, Bundle: local}, nil
}
