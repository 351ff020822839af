// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package config provides the YAML configuration for certsync.
//
// An example configuration is:
//
//	cdn:
//	  alias: my-alias
//	  auth_token: ${MAXCDN_TOKEN}
//	  requests_per_second: 2
//	store:
//	  cert_dir: $HOME/ssl/certs
//	  key_dir: $HOME/ssl/keys
//	  ca_bundle_file: $HOME/ssl/ca-bundle.txt
//	log_file: $HOME/certsync/logs/log.txt
//	domains:
//	  - "*.example.com"
//	serve:
//	  address: ":8443"
//	  refresh_interval: 6h
//	  acl:
//	    addresses: [10.0.0.0/8]
//	  auth:
//	    jwks_file: /etc/certsync/jwks.json
//	    scope: reconcile
package config

import (
	"fmt"
	"os"
	"time"

	"cloudeng.io/certsync/certstore"
	"cloudeng.io/certsync/domainname"
	"cloudeng.io/certsync/ipacl"
	"cloudeng.io/certsync/maxcdn"
	"cloudeng.io/certsync/webauth/jwtutil"
	"cloudeng.io/errors"
	"gopkg.in/yaml.v3"
)

// DefaultLogFile is the default location of the log of update attempts.
const DefaultLogFile = "$HOME/certsync/logs/log.txt"

// CDN represents the configuration of the CDN's API.
type CDN struct {
	BaseURL string `yaml:"base_url"`
	Alias   string `yaml:"alias"`
	// AuthHeader and AuthToken, if set, are added to every request.
	// AuthToken is expanded using os.ExpandEnv so that it may be
	// provided via the environment.
	AuthHeader        string        `yaml:"auth_header"`
	AuthToken         string        `yaml:"auth_token"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	UpdateTimeout     time.Duration `yaml:"update_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	BreakerFailures   int           `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
}

// Options returns the maxcdn.Options for the configuration.
func (c CDN) Options() []maxcdn.Option {
	var opts []maxcdn.Option
	if len(c.AuthToken) > 0 {
		opts = append(opts, maxcdn.WithAuthorizer(maxcdn.HeaderAuthorizer(c.AuthHeader, c.AuthToken)))
	}
	if c.RequestTimeout > 0 {
		opts = append(opts, maxcdn.WithRequestTimeout(c.RequestTimeout))
	}
	if c.RequestsPerSecond > 0 {
		opts = append(opts, maxcdn.WithRateLimit(c.RequestsPerSecond, c.Burst))
	}
	if c.BreakerFailures > 0 {
		opts = append(opts, maxcdn.WithCircuitBreaker(c.BreakerFailures, c.BreakerTimeout))
	}
	return opts
}

// Serve represents the configuration of the serve command.
type Serve struct {
	Address string `yaml:"address"`
	// RefreshInterval, if non-zero, enables periodic reconciliation.
	RefreshInterval time.Duration  `yaml:"refresh_interval"`
	RetryInterval   time.Duration  `yaml:"retry_interval"`
	ShutdownGrace   time.Duration  `yaml:"shutdown_grace"`
	ACL             ipacl.Config   `yaml:"acl"`
	Auth            jwtutil.Config `yaml:"auth"`
}

// Metrics represents the configuration of metrics.
type Metrics struct {
	Namespace string `yaml:"namespace"`
	// Textfile, if set, is the file that metrics are written to at the
	// end of the reconcile command, for use with the node exporter's
	// textfile collector.
	Textfile string `yaml:"textfile"`
}

// Config represents the certsync configuration.
type Config struct {
	CDN     CDN              `yaml:"cdn"`
	Store   certstore.Config `yaml:"store"`
	LogFile string           `yaml:"log_file"`
	Domains []string         `yaml:"domains"`
	Serve   Serve            `yaml:"serve"`
	Metrics Metrics          `yaml:"metrics"`
}

// Parse parses the YAML configuration in data, applies defaults and
// validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadFile reads and parses the configuration in the specified file.
func ReadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%v: %w", path, err)
	}
	return cfg, nil
}

// WithDefaults returns a copy of the configuration with defaults
// applied and environment variables expanded in file names.
func (c Config) WithDefaults() Config {
	if len(c.CDN.BaseURL) == 0 {
		c.CDN.BaseURL = maxcdn.DefaultBaseURL
	}
	if len(c.CDN.AuthHeader) == 0 {
		c.CDN.AuthHeader = "Authorization"
	}
	c.CDN.AuthToken = os.ExpandEnv(c.CDN.AuthToken)
	if c.CDN.UpdateTimeout <= 0 {
		c.CDN.UpdateTimeout = 30 * time.Second
	}
	c.Store = c.Store.WithDefaults()
	if len(c.LogFile) == 0 {
		c.LogFile = DefaultLogFile
	}
	c.LogFile = os.ExpandEnv(c.LogFile)
	if len(c.Serve.Address) == 0 {
		c.Serve.Address = ":8080"
	}
	if c.Serve.RetryInterval <= 0 {
		c.Serve.RetryInterval = time.Minute
	}
	if c.Serve.ShutdownGrace <= 0 {
		c.Serve.ShutdownGrace = 10 * time.Second
	}
	c.Serve.Auth.JWKSFile = os.ExpandEnv(c.Serve.Auth.JWKSFile)
	c.Metrics.Textfile = os.ExpandEnv(c.Metrics.Textfile)
	return c
}

// Validate returns an error, an errors.M, describing all of the
// problems with the configuration.
func (c Config) Validate() error {
	var errs errors.M
	if len(c.CDN.Alias) == 0 {
		errs.Append(fmt.Errorf("cdn.alias: must be specified"))
	}
	if err := maxcdn.ValidateBaseURL(c.CDN.BaseURL); err != nil {
		errs.Append(fmt.Errorf("cdn.base_url: %w", err))
	}
	if c.CDN.RequestsPerSecond < 0 {
		errs.Append(fmt.Errorf("cdn.requests_per_second: must not be negative"))
	}
	if len(c.Store.CertDir) == 0 || len(c.Store.KeyDir) == 0 {
		errs.Append(fmt.Errorf("store: cert_dir and key_dir must be specified"))
	}
	for _, d := range c.Domains {
		if err := domainname.Pattern(d).Validate(); err != nil {
			errs.Append(fmt.Errorf("domains: %w", err))
		}
	}
	if err := c.Serve.ACL.Validate(); err != nil {
		errs.Append(fmt.Errorf("serve.acl: %w", err))
	}
	if c.Serve.RefreshInterval < 0 {
		errs.Append(fmt.Errorf("serve.refresh_interval: must not be negative"))
	}
	if err := errs.Err(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ShutdownGrace returns the grace period allowed for the server to
// shut down. It is never less than the update timeout plus a margin so
// that an update in progress, and its log entry, can complete.
func (c Config) ShutdownGrace() time.Duration {
	return max(c.Serve.ShutdownGrace, c.CDN.UpdateTimeout+5*time.Second)
}

// DomainPatterns returns the configured domain patterns.
func (c Config) DomainPatterns() domainname.Patterns {
	return domainname.NewPatterns(c.Domains...)
}
