// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package jwtutil provides bearer token authentication, using JSON Web
// Tokens verified against a JSON Web Key Set, for the certsync HTTP
// endpoints that trigger reconciliation.
package jwtutil

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"cloudeng.io/certsync"
	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// ScopeClaim is the name of the claim holding the space separated
// list of scopes granted to a token.
const ScopeClaim = "scope"

// ErrUnauthorized is returned for tokens that fail validation.
var ErrUnauthorized = errors.New("unauthorized")

// Config represents the configuration for bearer token authentication.
type Config struct {
	JWKSFile string `yaml:"jwks_file" cmd:"file containing the JSON Web Key Set used to verify tokens"`
	Issuer   string `yaml:"issuer" cmd:"required token issuer"`
	Audience string `yaml:"audience" cmd:"required token audience"`
	Scope    string `yaml:"scope" cmd:"scope that tokens must be granted"`
}

// Enabled returns true if a key set is configured.
func (c Config) Enabled() bool {
	return len(c.JWKSFile) > 0
}

// LoadKeySet reads a JSON Web Key Set, or a single JSON Web Key,
// from path.
func LoadKeySet(path string) (jwk.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jwtutil: %w", err)
	}
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("jwtutil: %v: %w", path, err)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("jwtutil: %v: no keys found", path)
	}
	return set, nil
}

// Validator validates tokens against a key set and the configured
// issuer, audience and scope.
type Validator struct {
	set      jwk.Set
	issuer   string
	audience string
	scope    string
	skew     time.Duration
}

// NewValidator returns a Validator for the configuration, reading
// the key set from Config.JWKSFile.
func (c Config) NewValidator() (*Validator, error) {
	set, err := LoadKeySet(c.JWKSFile)
	if err != nil {
		return nil, err
	}
	return NewValidator(set, c), nil
}

// NewValidator returns a Validator that uses set rather than the key
// set named in cfg.
func NewValidator(set jwk.Set, cfg Config) *Validator {
	return &Validator{
		set:      set,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		scope:    cfg.Scope,
		skew:     30 * time.Second,
	}
}

// Validate parses and validates a token, returning an error that
// wraps ErrUnauthorized if it is not acceptable.
func (v *Validator) Validate(_ context.Context, token []byte) (jwt.Token, error) {
	opts := []jwt.ValidateOption{jwt.WithAcceptableSkew(v.skew)}
	if len(v.issuer) > 0 {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if len(v.audience) > 0 {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	tok, err := jwt.Parse(token, jwt.WithKeySet(v.set), jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if len(v.scope) > 0 {
		var granted string
		if err := tok.Get(ScopeClaim, &granted); err != nil {
			return nil, fmt.Errorf("%w: missing %v claim", ErrUnauthorized, ScopeClaim)
		}
		if !slices.Contains(strings.Fields(granted), v.scope) {
			return nil, fmt.Errorf("%w: scope %q not granted", ErrUnauthorized, v.scope)
		}
	}
	return tok, nil
}

// Handler returns an http.Handler that requires a valid bearer token
// before passing a request to handler. Requests without an acceptable
// token receive a 401 Unauthorized response and denied, if not nil,
// is incremented.
func (v *Validator) Handler(handler http.Handler, denied certsync.CounterInc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tok, err := bearerToken(r)
		if err == nil {
			var t jwt.Token
			if t, err = v.Validate(ctx, []byte(tok)); err == nil {
				sub, _ := t.Subject()
				ctxlog.Debug(ctx, "jwtutil: authorized", "component", "jwtutil", "subject", sub, "path", r.URL.Path)
				handler.ServeHTTP(w, r)
				return
			}
		}
		ctxlog.Info(ctx, "jwtutil: request denied", "component", "jwtutil", "path", r.URL.Path, "error", err)
		if denied != nil {
			denied(ctx)
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="certsync"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || len(strings.TrimSpace(tok)) == 0 {
		return "", fmt.Errorf("%w: no bearer token", ErrUnauthorized)
	}
	return strings.TrimSpace(tok), nil
}
