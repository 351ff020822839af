// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package domainname provides support for the three label domain names,
// eg. sub.example.com or *.example.com, that certificates are issued for
// and that are used to locate certificate files on the local host.
package domainname

import (
	"fmt"
	"strings"

	"cloudeng.io/errors"
)

// ErrMalformed is returned for domain names that do not consist of
// exactly three non-empty, dot separated labels.
var ErrMalformed = errors.New("malformed domain name")

// Wildcard is the subdomain label used by wildcard certificates.
const Wildcard = "*"

// WildcardToken is used in place of Wildcard in certificate filenames.
const WildcardToken = "_wildcard_"

// Name represents a parsed domain name.
type Name struct {
	Subdomain string
	Domain    string
	TLD       string
}

// Parse parses a fully qualified domain name of the form
// <subdomain>.<domain>.<tld>. Names with more or fewer labels, such
// as a.b.example.com or example.com, are rejected with ErrMalformed.
func Parse(name string) (Name, error) {
	labels := strings.Split(name, ".")
	if len(labels) != 3 {
		return Name{}, fmt.Errorf("%q: has %d labels, expected 3: %w", name, len(labels), ErrMalformed)
	}
	for _, l := range labels {
		if len(l) == 0 {
			return Name{}, fmt.Errorf("%q: contains an empty label: %w", name, ErrMalformed)
		}
	}
	return Name{Subdomain: labels[0], Domain: labels[1], TLD: labels[2]}, nil
}

// String implements fmt.Stringer.
func (n Name) String() string {
	return n.Subdomain + "." + n.Domain + "." + n.TLD
}

// IsWildcard returns true if the subdomain is the wildcard label.
func (n Name) IsWildcard() bool {
	return n.Subdomain == Wildcard
}

// SearchPrefix returns the filename prefix used to locate certificate
// files for n, ie. <subdomain>_<domain>_<tld>_ with a wildcard subdomain
// replaced by WildcardToken.
func (n Name) SearchPrefix() string {
	token := n.Subdomain
	if n.IsWildcard() {
		token = WildcardToken
	}
	return token + "_" + n.Domain + "_" + n.TLD + "_"
}
