// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package jwtutil

import (
	"crypto/ed25519"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// Signer issues tokens signed with an Ed25519 key, its public key set
// can be written to the file named by Config.JWKSFile.
type Signer struct {
	priv jwk.Key
	pub  jwk.Set
}

// NewSigner returns a Signer for priv, identified by keyID.
func NewSigner(priv ed25519.PrivateKey, keyID string) (*Signer, error) {
	key, err := jwk.Import(priv)
	if err != nil {
		return nil, err
	}
	for _, kv := range []struct {
		k string
		v any
	}{
		{jwk.AlgorithmKey, jwa.EdDSA()},
		{jwk.KeyUsageKey, "sig"},
		{jwk.KeyIDKey, keyID},
	} {
		if err := key.Set(kv.k, kv.v); err != nil {
			return nil, err
		}
	}
	pubKey, err := key.PublicKey()
	if err != nil {
		return nil, err
	}
	pub := jwk.NewSet()
	if err := pub.AddKey(pubKey); err != nil {
		return nil, err
	}
	return &Signer{priv: key, pub: pub}, nil
}

// PublicKeys returns the public key set for the signer.
func (s *Signer) PublicKeys() jwk.Set {
	return s.pub
}

// Issue returns a signed token for subject, with the specified issuer,
// audience and scope, that is valid for the specified duration.
func (s *Signer) Issue(issuer, audience, subject, scope string, validFor time.Duration) ([]byte, error) {
	now := time.Now()
	b := jwt.NewBuilder().
		Issuer(issuer).
		Subject(subject).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(validFor))
	if len(audience) > 0 {
		b = b.Audience([]string{audience})
	}
	if len(scope) > 0 {
		b = b.Claim(ScopeClaim, scope)
	}
	tok, err := b.Build()
	if err != nil {
		return nil, err
	}
	return jwt.Sign(tok, jwt.WithKey(jwa.EdDSA(), s.priv))
}
