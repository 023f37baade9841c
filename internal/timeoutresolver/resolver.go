// Package timeoutresolver maps a request path to the timeout that should
// govern its upstream exchange.
package timeoutresolver

import (
	"strings"
	"time"
)

// Override pairs a path prefix with the timeout that applies to any
// request path it prefixes.
type Override struct {
	Path    string
	Timeout time.Duration
}

// Resolver scans an ordered list of overrides, byte-exact prefix match,
// first-match-wins, falling back to a default timeout.
type Resolver struct {
	overrides []Override
	def       time.Duration
}

// New builds a Resolver. overrides are consulted in the given order;
// the first whose Path is a prefix of the request path wins.
func New(overrides []Override, def time.Duration) *Resolver {
	cp := make([]Override, len(overrides))
	copy(cp, overrides)
	return &Resolver{overrides: cp, def: def}
}

// Resolve returns the effective timeout for path.
func (r *Resolver) Resolve(path string) time.Duration {
	for _, o := range r.overrides {
		if strings.HasPrefix(path, o.Path) {
			return o.Timeout
		}
	}
	return r.def
}
