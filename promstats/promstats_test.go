// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package promstats_test

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloudeng.io/certsync"
	"cloudeng.io/certsync/promstats"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, m *promstats.Metrics) {
	ctx := t.Context()
	var outcome certsync.CounterVecInc = m.Outcome
	var denied certsync.CounterInc = m.ACLDenied
	outcome(ctx, "sub.example.com", "updated")
	outcome(ctx, "sub.example.com", "updated")
	outcome(ctx, "www.example.com", "failed")
	// Ignored since the number of labels is wrong.
	outcome(ctx, "www.example.com")
	m.Run(ctx, "ok")
	m.CDNRequest(ctx, "list", "ok")
	m.CDNRequest(ctx, "update", "error")
	denied(ctx)
	m.AuthDenied(ctx)
	m.AuthDenied(ctx)
}

const expected = `# HELP certsync_outcomes_total Outcome of reconciling each domain.
# TYPE certsync_outcomes_total counter
certsync_outcomes_total{domain="sub.example.com",state="updated"} 2
certsync_outcomes_total{domain="www.example.com",state="failed"} 1
`

func TestCounters(t *testing.T) {
	m := promstats.New("")
	record(t, m)

	count, err := testutil.GatherAndCount(m.Registry(), "certsync_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = testutil.GatherAndCount(m.Registry(), "certsync_cdn_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	err = testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "certsync_outcomes_total")
	assert.NoError(t, err)
}

func TestHandler(t *testing.T) {
	m := promstats.New("custom")
	record(t, m)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	for _, line := range []string{
		`custom_outcomes_total{domain="sub.example.com",state="updated"} 2`,
		`custom_runs_total{status="ok"} 1`,
		`custom_acl_denied_total 1`,
		`custom_auth_denied_total 2`,
	} {
		assert.Contains(t, string(body), line)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := promstats.New("")
	record(t, m)
	path := filepath.Join(t.TempDir(), "certsync.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `certsync_cdn_requests_total{operation="update",status="error"} 1`)

	assert.Error(t, m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom")))
}
