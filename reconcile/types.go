// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloudeng.io/certsync/certcmp"
	"cloudeng.io/certsync/domainname"
	"cloudeng.io/errors"
)

var (
	// ErrFetch is returned when the list of certificates held by the
	// CDN cannot be obtained.
	ErrFetch = errors.New("failed to fetch certificates")
	// ErrUpdate is used for outcomes where the CDN did not accept an update.
	ErrUpdate = errors.New("failed to update certificate")
	// ErrTimeout is used for outcomes where an update timed out.
	ErrTimeout = fmt.Errorf("%w: timed out", ErrUpdate)
	// ErrUnexpectedResponse is returned by CDN implementations when a
	// response indicates neither success nor an explicit error.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrUnavailable is returned by CDN implementations when calls to
	// the CDN are suspended following repeated failures.
	ErrUnavailable = errors.New("cdn unavailable")
	// ErrBusy is returned by Engine.Run when a run is already in progress.
	ErrBusy = errors.New("reconciliation already in progress")
)

// Transient returns true if err represents a failure that may succeed
// if retried shortly, ie. a failure to list the CDN's certificates, a
// timeout, a server side error or a suspended CDN. Malformed domains
// and updates rejected by the CDN are not transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFetch) {
		return true
	}
	if errors.Is(err, domainname.ErrMalformed) {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code >= http.StatusInternalServerError
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrUnexpectedResponse)
}

// Record represents a certificate held by the CDN.
type Record struct {
	ID       string
	Domain   string
	Cert     string
	CABundle string
}

// Upload represents the certificate, key and CA bundle to be uploaded
// to replace a Record.
type Upload struct {
	Cert     string
	Key      string
	CABundle string
}

// RemoteError is returned by CDN implementations for responses that
// carry an explicit error.
type RemoteError struct {
	Code    int
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	if len(e.Type) > 0 {
		return fmt.Sprintf("%v (%v): %v", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%v: %v", e.Code, e.Message)
}

// CDN represents the operations required of a CDN's certificate API.
type CDN interface {
	// List returns all of the certificates held by the CDN.
	List(ctx context.Context) ([]Record, error)
	// Update replaces the certificate with the specified id.
	Update(ctx context.Context, id string, upload Upload) error
}

// Checker represents the ability to compare a remote certificate with
// the local one, it is implemented by certcmp.Comparator.
type Checker interface {
	Check(ctx context.Context, domain, remoteCert, remoteCABundle string) (certcmp.Result, error)
}

// Log represents a persistent, append-only, record of update attempts.
type Log interface {
	Append(ctx context.Context, domain string, success bool, when time.Time) error
}

// State represents the terminal state reached for a domain.
type State int

const (
	Skipped State = iota
	Updated
	Failed
)

func (s State) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome represents the result of reconciling a single domain.
type Outcome struct {
	Domain   string
	RecordID string
	State    State
	Reason   string
	Time     time.Time
	// Err is set for Failed outcomes.
	Err error
	// LogErr is set if the outcome could not be appended to the Log.
	LogErr error
}

// Success returns true if the remote certificate was updated.
func (o Outcome) Success() bool {
	return o.State == Updated
}

func (o Outcome) String() string {
	if len(o.Reason) == 0 {
		return fmt.Sprintf("%v: %v", o.Domain, o.State)
	}
	return fmt.Sprintf("%v: %v: %v", o.Domain, o.State, o.Reason)
}

// Counts returns the number of outcomes in each state.
func Counts(outcomes []Outcome) (updated, skipped, failed int) {
	for _, o := range outcomes {
		switch o.State {
		case Updated:
			updated++
		case Skipped:
			skipped++
		case Failed:
			failed++
		}
	}
	return
}

// Failures returns an error that contains the errors for all Failed
// outcomes, or nil if there are none.
func Failures(outcomes []Outcome) error {
	var errs errors.M
	for _, o := range outcomes {
		if o.State == Failed {
			errs.Append(fmt.Errorf("%v: %w", o.Domain, o.Err))
		}
	}
	return errs.Err()
}
