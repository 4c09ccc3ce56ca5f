package ratelimit

import (
	"fmt"
	"sort"
)

// Standard pool names used by the HTTP layer.
const (
	PoolAuth          = "auth"
	PoolAPI           = "api"
	PoolPasswordReset = "password-reset"
	PoolInvitation    = "invitation"
)

// Registry holds named, independent limiters. A key checked against one pool
// is never compared with requests tracked by another.
type Registry struct {
	limiters map[string]*Limiter
}

// NewRegistry builds one Limiter per entry in pools. Call it once during
// startup.
func NewRegistry(pools map[string]Config) (*Registry, error) {
	r := &Registry{limiters: make(map[string]*Limiter, len(pools))}
	for name, cfg := range pools {
		l, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("limiter %q: %w", name, err)
		}
		r.limiters[name] = l
	}
	return r, nil
}

// Get returns the named limiter or nil if it was never configured.
func (r *Registry) Get(name string) *Limiter {
	return r.limiters[name]
}

// MustGet is Get but panics on a missing pool. Meant for wiring at startup.
func (r *Registry) MustGet(name string) *Limiter {
	l, ok := r.limiters[name]
	if !ok {
		panic(fmt.Sprintf("ratelimit: pool %q not configured", name))
	}
	return l
}

// Names lists the configured pools in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
