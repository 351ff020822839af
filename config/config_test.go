// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloudeng.io/certsync/config"
	"cloudeng.io/certsync/maxcdn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
cdn:
  base_url: https://cdn.example.net/api
  alias: my-alias
  auth_header: X-Api-Key
  auth_token: ${CERTSYNC_TEST_TOKEN}
  request_timeout: 10s
  update_timeout: 1m
  requests_per_second: 2.5
  burst: 3
  breaker_failures: 4
  breaker_timeout: 2m
store:
  cert_dir: ${CERTSYNC_TEST_ROOT}/certs
  key_dir: ${CERTSYNC_TEST_ROOT}/keys
  ca_bundle_file: ${CERTSYNC_TEST_ROOT}/ca.txt
log_file: ${CERTSYNC_TEST_ROOT}/logs/log.txt
domains:
  - "*.example.com"
  - www.example.org
serve:
  address: 127.0.0.1:9000
  refresh_interval: 6h
  acl:
    addresses: [10.0.0.0/8, 127.0.0.1]
    source: proxy
  auth:
    jwks_file: ${CERTSYNC_TEST_ROOT}/jwks.json
    issuer: ops
    scope: reconcile
metrics:
  namespace: certs
  textfile: ${CERTSYNC_TEST_ROOT}/certsync.prom
`

func TestParse(t *testing.T) {
	t.Setenv("CERTSYNC_TEST_TOKEN", "secret")
	t.Setenv("CERTSYNC_TEST_ROOT", "/srv")
	cfg, err := config.Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, config.CDN{
		BaseURL:           "https://cdn.example.net/api",
		Alias:             "my-alias",
		AuthHeader:        "X-Api-Key",
		AuthToken:         "secret",
		RequestTimeout:    10 * time.Second,
		UpdateTimeout:     time.Minute,
		RequestsPerSecond: 2.5,
		Burst:             3,
		BreakerFailures:   4,
		BreakerTimeout:    2 * time.Minute,
	}, cfg.CDN)
	assert.Len(t, cfg.CDN.Options(), 4)
	assert.Equal(t, "/srv/certs", cfg.Store.CertDir)
	assert.Equal(t, "/srv/keys", cfg.Store.KeyDir)
	assert.Equal(t, "/srv/ca.txt", cfg.Store.CABundleFile)
	assert.Equal(t, "/srv/logs/log.txt", cfg.LogFile)
	assert.Equal(t, "127.0.0.1:9000", cfg.Serve.Address)
	assert.Equal(t, 6*time.Hour, cfg.Serve.RefreshInterval)
	assert.Equal(t, time.Minute, cfg.Serve.RetryInterval)
	assert.Equal(t, "proxy", cfg.Serve.ACL.Source)
	assert.Equal(t, "/srv/jwks.json", cfg.Serve.Auth.JWKSFile)
	assert.Equal(t, "/srv/certsync.prom", cfg.Metrics.Textfile)

	patterns := cfg.DomainPatterns()
	assert.True(t, patterns.Matches("sub.example.com"))
	assert.True(t, patterns.Matches("WWW.example.org"))
	assert.False(t, patterns.Matches("sub.example.org"))
}

func TestDefaults(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	cfg, err := config.Parse([]byte("cdn:\n  alias: a\n"))
	require.NoError(t, err)
	assert.Equal(t, maxcdn.DefaultBaseURL, cfg.CDN.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.CDN.UpdateTimeout)
	assert.Empty(t, cfg.CDN.Options())
	assert.Equal(t, filepath.Join(home, "ssl", "certs"), cfg.Store.CertDir)
	assert.Equal(t, filepath.Join(home, "ssl", "keys"), cfg.Store.KeyDir)
	assert.Empty(t, cfg.Store.CABundleFile)
	assert.Equal(t, os.ExpandEnv(config.DefaultLogFile), cfg.LogFile)
	assert.Equal(t, ":8080", cfg.Serve.Address)
	assert.Zero(t, cfg.Serve.RefreshInterval)
	assert.False(t, cfg.Serve.ACL.Enabled())
	assert.False(t, cfg.Serve.Auth.Enabled())
	assert.True(t, cfg.DomainPatterns().Matches("any.example.com"))
	assert.Equal(t, 35*time.Second, cfg.ShutdownGrace())
}

func TestShutdownGrace(t *testing.T) {
	for _, tc := range []struct {
		yaml string
		want time.Duration
	}{
		{"cdn:\n  alias: a\nserve:\n  shutdown_grace: 10s\n", 35 * time.Second},
		{"cdn:\n  alias: a\n  update_timeout: 1m\n", 65 * time.Second},
		{"cdn:\n  alias: a\n  update_timeout: 5s\nserve:\n  shutdown_grace: 2m\n", 2 * time.Minute},
	} {
		cfg, err := config.Parse([]byte(tc.yaml))
		require.NoError(t, err)
		if got, want := cfg.ShutdownGrace(), tc.want; got != want {
			t.Errorf("%q: got %v, want %v", tc.yaml, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		yaml    string
		message string
	}{
		{"store:\n  cert_dir: /x\n", "cdn.alias"},
		{"cdn:\n  alias: a\n  base_url: ftp://example.com\n", "cdn.base_url"},
		{"cdn:\n  alias: a\n  requests_per_second: -1\n", "cdn.requests_per_second"},
		{"cdn:\n  alias: a\ndomains: [a*.example.com]\n", "domains"},
		{"cdn:\n  alias: a\nserve:\n  acl:\n    addresses: [nonsense]\n", "serve.acl"},
		{"cdn:\n  alias: a\nserve:\n  acl:\n    source: telepathy\n", "serve.acl"},
		{"cdn:\n  alias: a\nserve:\n  refresh_interval: -1h\n", "serve.refresh_interval"},
		{"cdn: [", "config"},
	} {
		_, err := config.Parse([]byte(tc.yaml))
		if assert.Error(t, err, tc.yaml) {
			assert.Contains(t, err.Error(), tc.message)
		}
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "certsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cdn:\n  alias: from-file\n"), 0600))
	cfg, err := config.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.CDN.Alias)

	_, err = config.ReadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
