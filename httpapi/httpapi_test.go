// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package httpapi_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloudeng.io/certsync/httpapi"
	"cloudeng.io/certsync/ipacl"
	"cloudeng.io/certsync/outcomelog"
	"cloudeng.io/certsync/promstats"
	"cloudeng.io/certsync/reconcile"
	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outcomes []reconcile.Outcome
	err      error
	calls    int
}

func (f *fakeRunner) Run(context.Context) ([]reconcile.Outcome, error) {
	f.calls++
	return f.outcomes, f.err
}

func do(t *testing.T, h http.Handler, method, target string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:4321"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return w.Code, string(body)
}

func TestLog(t *testing.T) {
	ctx := t.Context()
	log := outcomelog.New(filepath.Join(t.TempDir(), "log.txt"))
	h := httpapi.New(&fakeRunner{}, log)

	code, body := do(t, h, "GET", "/log")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "No log file exists\n", body)

	when := time.Date(2026, 10, 19, 1, 2, 3, 0, time.UTC)
	require.NoError(t, log.Append(ctx, "sub.example.com", true, when))
	require.NoError(t, log.Append(ctx, "www.example.com", false, when))

	code, body = do(t, h, "GET", "/log")
	assert.Equal(t, http.StatusOK, code)
	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	assert.Equal(t, string(data), body)

	code, body = do(t, h, "GET", "/log?format=json")
	assert.Equal(t, http.StatusOK, code)
	var entries []struct {
		Domain  string    `json:"domain"`
		Success bool      `json:"success"`
		Time    time.Time `json:"time"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "www.example.com", entries[1].Domain)
	assert.False(t, entries[1].Success)
	assert.True(t, entries[0].Time.Equal(when))

	code, _ = do(t, h, "POST", "/log")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

type response struct {
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Error    string `json:"error"`
	Outcomes []struct {
		Domain   string `json:"domain"`
		RecordID string `json:"record_id"`
		State    string `json:"state"`
		Reason   string `json:"reason"`
		Error    string `json:"error"`
	} `json:"outcomes"`
}

func TestReconcile(t *testing.T) {
	runner := &fakeRunner{outcomes: []reconcile.Outcome{
		{Domain: "a.example.com", RecordID: "1", State: reconcile.Updated},
		{Domain: "b.example.com", RecordID: "2", State: reconcile.Skipped, Reason: "current"},
		{Domain: "c.example.com", RecordID: "3", State: reconcile.Failed, Reason: "timeout", Err: reconcile.ErrTimeout},
	}}
	h := httpapi.New(runner, outcomelog.New(filepath.Join(t.TempDir(), "log.txt")))

	code, body := do(t, h, "POST", "/reconcile")
	assert.Equal(t, http.StatusOK, code)
	var resp response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, []int{1, 1, 1}, []int{resp.Updated, resp.Skipped, resp.Failed})
	require.Len(t, resp.Outcomes, 3)
	assert.Equal(t, "updated", resp.Outcomes[0].State)
	assert.Equal(t, "current", resp.Outcomes[1].Reason)
	assert.Equal(t, "failed", resp.Outcomes[2].State)
	assert.Contains(t, resp.Outcomes[2].Error, "timed out")

	code, _ = do(t, h, "GET", "/reconcile")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Equal(t, 1, runner.calls)
}

func TestReconcileErrors(t *testing.T) {
	for _, tc := range []struct {
		err    error
		status int
	}{
		{reconcile.ErrBusy, http.StatusConflict},
		{fmt.Errorf("%w: invalid credentials", reconcile.ErrFetch), http.StatusBadGateway},
		{context.Canceled, http.StatusServiceUnavailable},
		{fmt.Errorf("oops"), http.StatusInternalServerError},
	} {
		h := httpapi.New(&fakeRunner{err: tc.err}, outcomelog.New(filepath.Join(t.TempDir(), "log.txt")))
		code, body := do(t, h, "POST", "/reconcile")
		assert.Equal(t, tc.status, code, tc.err.Error())
		var resp response
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		assert.Equal(t, tc.err.Error(), resp.Error)
	}
}

func TestMiddlewareAndMetrics(t *testing.T) {
	metrics := promstats.New("")
	acl, err := ipacl.New("10.0.0.0/8")
	require.NoError(t, err)
	var order []string
	trace := func(name string) httpapi.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	runner := &fakeRunner{}
	h := httpapi.New(runner, outcomelog.New(filepath.Join(t.TempDir(), "log.txt")),
		httpapi.WithMetrics(metrics.Handler()),
		httpapi.WithReconcileMiddleware(trace("outer"), trace("inner"),
			func(next http.Handler) http.Handler {
				return acl.Handler(next, ipacl.RemoteAddr, metrics.ACLDenied)
			}),
		httpapi.WithLogMiddleware(trace("log")))

	code, _ := do(t, h, "POST", "/reconcile")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, 0, runner.calls)
	assert.Equal(t, []string{"outer", "inner"}, order)

	code, _ = do(t, h, "GET", "/log")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, []string{"outer", "inner", "log"}, order)

	code, body := do(t, h, "GET", "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "certsync_acl_denied_total 1"), body)

	code, body = do(t, h, "GET", "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
}

func TestMetricsMiddleware(t *testing.T) {
	metrics := promstats.New("")
	acl, err := ipacl.New("10.0.0.0/8")
	require.NoError(t, err)
	guard := func(next http.Handler) http.Handler {
		return acl.Handler(next, ipacl.RemoteAddr, metrics.ACLDenied)
	}
	h := httpapi.New(&fakeRunner{}, outcomelog.New(filepath.Join(t.TempDir(), "log.txt")),
		httpapi.WithMetrics(metrics.Handler(), guard))

	// Requests made by do originate from 127.0.0.1.
	code, body := do(t, h, "GET", "/metrics")
	assert.Equal(t, http.StatusForbidden, code)
	assert.NotContains(t, body, "certsync_")

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "certsync_acl_denied_total 1")
}
