// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package domainname

import (
	"fmt"
	"strings"
)

// DefaultMaxLabelsAllowed is the maximum number of labels that a pattern
// or name may have to be considered by Matches.
var DefaultMaxLabelsAllowed = 10

// Pattern is a domain name pattern with support for wildcards (*).
// Wildcards match entire labels and cannot be used as partial matches,
// that is, a*.example.com matches nothing but itself.
type Pattern string

// Matches returns true if name is matched by the pattern. Both must be
// non-empty and neither may have more than DefaultMaxLabelsAllowed labels.
// A leading wildcard label ('*.') matches one or more labels, so
// *.example.com matches www.example.com and a.b.example.com but not
// example.com. Any other wildcard label matches exactly one label, so
// www.*.com matches www.example.com but not www.a.example.com. A literal
// wildcard name such as *.example.com matches itself.
func (p Pattern) Matches(name string) bool {
	if len(p) == 0 || len(name) == 0 {
		return false
	}
	patternLabels := strings.Count(string(p), ".") + 1
	nameLabels := strings.Count(name, ".") + 1
	if patternLabels > DefaultMaxLabelsAllowed || nameLabels > DefaultMaxLabelsAllowed {
		return false
	}
	if string(p) == name {
		return true
	}
	wildcardStart := strings.HasPrefix(string(p), "*.")
	if wildcardStart {
		if strings.HasSuffix(name, string(p[1:])) {
			return true
		}
	}
	if wildcardStart {
		if patternLabels > nameLabels {
			return false
		}
	} else if patternLabels != nameLabels {
		return false
	}

	pl := strings.Split(string(p), ".")
	nl := strings.Split(name, ".")
	// Align from the right so that a leading wildcard absorbs any
	// additional labels in name.
	offset := len(nl) - len(pl)
	for i := len(pl) - 1; i >= 0; i-- {
		if pl[i] == "*" {
			continue
		}
		if pl[i] != nl[i+offset] {
			return false
		}
	}
	return true
}

// Validate returns an error if the pattern can never match a name:
// it is empty, has an empty label, has too many labels, or uses a
// wildcard as part of a label.
func (p Pattern) Validate() error {
	labels := strings.Split(string(p), ".")
	if len(labels) > DefaultMaxLabelsAllowed {
		return fmt.Errorf("%q: too many labels", p)
	}
	for _, l := range labels {
		if len(l) == 0 {
			return fmt.Errorf("%q: empty label", p)
		}
		if l != Wildcard && strings.Contains(l, Wildcard) {
			return fmt.Errorf("%q: wildcards must match entire labels", p)
		}
	}
	return nil
}

// Patterns represents a set of patterns used to select domain names.
type Patterns []Pattern

// NewPatterns returns the patterns for the supplied strings.
func NewPatterns(patterns ...string) Patterns {
	p := make(Patterns, 0, len(patterns))
	for _, s := range patterns {
		if s = strings.TrimSpace(s); len(s) > 0 {
			p = append(p, Pattern(strings.ToLower(s)))
		}
	}
	return p
}

// Matches returns true if any of the patterns match name, or if there
// are no patterns at all.
func (p Patterns) Matches(name string) bool {
	if len(p) == 0 {
		return true
	}
	name = strings.ToLower(name)
	for _, pat := range p {
		if pat.Matches(name) {
			return true
		}
	}
	return false
}
