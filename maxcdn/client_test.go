// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package maxcdn_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloudeng.io/certsync/maxcdn"
	"cloudeng.io/certsync/reconcile"
	"cloudeng.io/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	method, path, auth string
	crt, key, ca       string
}

type cdnServer struct {
	mu       sync.Mutex
	status   int
	body     string
	requests []request
}

func (s *cdnServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := request{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
	if r.Method == http.MethodPut {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.crt, req.key, req.ca = r.PostForm.Get("ssl_crt"), r.PostForm.Get("ssl_key"), r.PostForm.Get("ssl_cabundle")
	}
	s.requests = append(s.requests, req)
	w.Header().Set("Content-Type", "application/json")
	if s.status != 0 {
		w.WriteHeader(s.status)
	}
	fmt.Fprint(w, s.body)
}

func (s *cdnServer) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func (s *cdnServer) received() []request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]request(nil), s.requests...)
}

func newClient(t *testing.T, opts ...maxcdn.Option) (*maxcdn.Client, *cdnServer) {
	t.Helper()
	srv := &cdnServer{}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	opts = append([]maxcdn.Option{
		maxcdn.WithHTTPClient(ts.Client()),
		maxcdn.WithAuthorizer(maxcdn.HeaderAuthorizer("Authorization", "Bearer token")),
	}, opts...)
	client, err := maxcdn.NewClient(ts.URL, "myalias", opts...)
	require.NoError(t, err)
	return client, srv
}

const listResponse = `{
	"code": 200,
	"data": {
		"certificates": [
			{"id": 1234, "domain": "sub.example.com", "ssl_crt": "cert-1", "ssl_cabundle": "ca-1", "ssl_expire": "2026-01-01"},
			{"id": "5678", "domain": "*.example.com", "ssl_crt": "cert-2", "ssl_cabundle": ""}
		],
		"total": 2
	}
}`

func TestList(t *testing.T) {
	ctx := t.Context()
	client, srv := newClient(t)
	srv.respond(http.StatusOK, listResponse)

	records, err := client.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []reconcile.Record{
		{ID: "1234", Domain: "sub.example.com", Cert: "cert-1", CABundle: "ca-1"},
		{ID: "5678", Domain: "*.example.com", Cert: "cert-2"},
	}, records)

	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, request{method: "GET", path: "/myalias/ssl.json", auth: "Bearer token"}, reqs[0])
}

func TestListErrors(t *testing.T) {
	ctx := t.Context()
	for _, tc := range []struct {
		status  int
		body    string
		remote  bool
		message string
	}{
		{http.StatusUnauthorized, `{"code": 401, "error": {"type": "unauthorized", "message": "invalid credentials"}}`, true, "invalid credentials"},
		{http.StatusOK, `{"code": 403, "error": {"message": "forbidden"}}`, true, "forbidden"},
		{http.StatusOK, `{"code": 202}`, false, "code 202"},
		{http.StatusOK, `not json`, false, "failed to decode"},
		{http.StatusOK, `{"code": 200, "data": {"certificates": [{"domain": "a.b.c"}]}}`, false, "invalid id"},
		{http.StatusOK, ``, false, "empty response"},
		{http.StatusBadGateway, `<html>bad gateway</html>`, false, "502"},
	} {
		client, srv := newClient(t)
		srv.respond(tc.status, tc.body)
		_, err := client.List(ctx)
		require.Error(t, err, tc.body)
		var remote *reconcile.RemoteError
		if got, want := errors.As(err, &remote), tc.remote; got != want {
			t.Errorf("%q: got %v, want %v: %v", tc.body, got, want, err)
		}
		if !tc.remote && !errors.Is(err, reconcile.ErrUnexpectedResponse) {
			t.Errorf("%q: expected ErrUnexpectedResponse, got %v", tc.body, err)
		}
		assert.Contains(t, err.Error(), tc.message)
	}
}

func TestUpdate(t *testing.T) {
	ctx := t.Context()
	client, srv := newClient(t)
	srv.respond(http.StatusOK, `{"code": 200, "data": {"certificate": {"id": 1234}}}`)

	upload := reconcile.Upload{Cert: "cert\nwith lines", Key: "key+/=", CABundle: "ca&bundle"}
	require.NoError(t, client.Update(ctx, "1234", upload))

	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, request{
		method: "PUT",
		path:   "/myalias/ssl.json/1234",
		auth:   "Bearer token",
		crt:    upload.Cert,
		key:    upload.Key,
		ca:     upload.CABundle,
	}, reqs[0])
}

func TestUpdateErrors(t *testing.T) {
	ctx := t.Context()
	client, srv := newClient(t)

	srv.respond(http.StatusBadRequest, `{"code": 400, "error": {"type": "bad_request", "message": "certificate does not match key"}}`)
	err := client.Update(ctx, "1", reconcile.Upload{})
	var remote *reconcile.RemoteError
	require.True(t, errors.As(err, &remote), "%v", err)
	assert.Equal(t, &reconcile.RemoteError{Code: 400, Type: "bad_request", Message: "certificate does not match key"}, remote)

	srv.respond(http.StatusOK, `{"code": 201}`)
	err = client.Update(ctx, "1", reconcile.Upload{})
	if !errors.Is(err, reconcile.ErrUnexpectedResponse) {
		t.Errorf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestUpdateTimeout(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(block)
	client, err := maxcdn.NewClient(ts.URL, "alias",
		maxcdn.WithHTTPClient(ts.Client()),
		maxcdn.WithRequestTimeout(20*time.Millisecond))
	require.NoError(t, err)
	err = client.Update(t.Context(), "1", reconcile.Upload{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected a deadline exceeded error, got %v", err)
	}
}

func TestCircuitBreaker(t *testing.T) {
	ctx := t.Context()
	var labels []string
	client, srv := newClient(t,
		maxcdn.WithCircuitBreaker(2, time.Hour),
		maxcdn.WithRequestMetric(func(_ context.Context, l ...string) {
			labels = append(labels, strings.Join(l, ":"))
		}))

	// Rejections by the CDN do not suspend requests.
	srv.respond(http.StatusForbidden, `{"code": 403, "error": {"message": "forbidden"}}`)
	for range 3 {
		_, err := client.List(ctx)
		var remote *reconcile.RemoteError
		require.True(t, errors.As(err, &remote), "%v", err)
	}

	srv.respond(http.StatusServiceUnavailable, `unavailable`)
	for range 2 {
		_, err := client.List(ctx)
		require.True(t, errors.Is(err, reconcile.ErrUnexpectedResponse), "%v", err)
	}
	_, err := client.List(ctx)
	if !errors.Is(err, maxcdn.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if !reconcile.Transient(err) {
		t.Errorf("expected %v to be transient", err)
	}
	assert.Len(t, srv.received(), 5)
	assert.Equal(t, []string{
		"list:ok", "list:ok", "list:ok",
		"list:error", "list:error",
		"list:unavailable",
	}, labels)
}

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	client, srv := newClient(t, maxcdn.WithRateLimit(0.001, 1))
	srv.respond(http.StatusOK, listResponse)
	_, err := client.List(ctx)
	require.NoError(t, err)
	cancel()
	_, err = client.List(ctx)
	require.Error(t, err)
	assert.Len(t, srv.received(), 1)
}

func TestNewClient(t *testing.T) {
	_, err := maxcdn.NewClient("", "")
	assert.Error(t, err)
	_, err = maxcdn.NewClient("ftp://example.com", "alias")
	assert.Error(t, err)
	_, err = maxcdn.NewClient("", "alias")
	assert.NoError(t, err)

	assert.NoError(t, maxcdn.ValidateBaseURL(""))
	assert.NoError(t, maxcdn.ValidateBaseURL("http://127.0.0.1:8080/api"))
	assert.ErrorContains(t, maxcdn.ValidateBaseURL("ftp://example.com"), "unsupported scheme")
	assert.Error(t, maxcdn.ValidateBaseURL("http://[::1"))
}
