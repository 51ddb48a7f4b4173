// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package rbac

import (
	"strings"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// patternCacheSize bounds the number of compiled patterns kept.
const patternCacheSize = 1024

// Matcher matches resource and action patterns, caching compiled globs.
// It is safe for concurrent use.
type Matcher struct {
	cache *lru.LRU[string, glob.Glob]
}

// NewMatcher creates a Matcher.
func NewMatcher() *Matcher {
	return &Matcher{cache: lru.NewLRU[string, glob.Glob](patternCacheSize, nil, 0)}
}

// Match reports whether value matches pattern. Invalid patterns match nothing.
func (m *Matcher) Match(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !hasMeta(pattern) {
		return pattern == value
	}
	g, err := m.compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(value)
}

// ValidatePattern checks that pattern is non-empty and compiles.
func (m *Matcher) ValidatePattern(field, pattern string) error {
	if pattern == "" {
		return errutil.Validation("RBAC_INVALID_PATTERN").
			With("field", field).
			Errorf("%s cannot be empty", field)
	}
	if !hasMeta(pattern) {
		return nil
	}
	if _, err := m.compile(pattern); err != nil {
		return errutil.Validation("RBAC_INVALID_PATTERN").
			With("field", field).
			With("pattern", pattern).
			Wrap(err)
	}
	return nil
}

func (m *Matcher) compile(pattern string) (glob.Glob, error) {
	if g, ok := m.cache.Get(pattern); ok {
		return g, nil
	}
	g, err := glob.Compile(pattern, ':')
	if err != nil {
		return nil, err
	}
	m.cache.Add(pattern, g)
	return g, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[{\`)
}
