// Package ratelimit implements per-key sliding-window admission control.
//
// Each key maps to the list of request timestamps seen inside the current
// window. Entries live in a bounded LRU with a TTL equal to the window, so the
// memory held by a limiter never exceeds capacity × MaxRequests timestamps no
// matter how many distinct clients show up. When the cache evicts a key its
// quota silently resets (the limiter fails open under memory pressure).
//
// Every Limiter owns a background goroutine that sweeps expired keys. The
// cache offers no way to stop it, so limiters are meant to be built once at
// startup (see Registry) and live for the rest of the process. Do not create
// them per request or per connection.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultUniqueTokenPerInterval is the default number of distinct keys a
// limiter tracks before evicting the least recently used one.
const DefaultUniqueTokenPerInterval = 500

var (
	ErrInvalidInterval    = errors.New("ratelimit: interval must be positive")
	ErrInvalidMaxRequests = errors.New("ratelimit: max requests must be positive")
)

// Config defines one limiter pool.
type Config struct {
	// Interval is the length of the sliding window.
	Interval time.Duration
	// MaxRequests is the number of requests admitted per key inside Interval.
	MaxRequests int
	// UniqueTokenPerInterval bounds the number of tracked keys (default 500).
	UniqueTokenPerInterval int

	// Now is the clock, defaults to time.Now.
	Now func() time.Time
	// OnEvict is called when a key leaves the cache (capacity or TTL).
	OnEvict func(key string)
}

// Decision is the outcome of a Check or Peek. It is never stored.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is a unix timestamp in seconds: now + interval, rounded up.
	ResetAt int64
}

// Limiter is a sliding-window rate limiter over an LRU-bounded cache. It is
// safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	cache    *expirable.LRU[string, []int64]
	interval int64 // milliseconds
	max      int
	now      func() time.Time
}

// New constructs a Limiter. Each call returns an independent key space and
// starts a sweeper goroutine that runs until the process exits.
func New(cfg Config) (*Limiter, error) {
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if cfg.MaxRequests <= 0 {
		return nil, ErrInvalidMaxRequests
	}
	if cfg.UniqueTokenPerInterval <= 0 {
		cfg.UniqueTokenPerInterval = DefaultUniqueTokenPerInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var onEvict expirable.EvictCallback[string, []int64]
	if cfg.OnEvict != nil {
		hook := cfg.OnEvict
		onEvict = func(key string, _ []int64) { hook(key) }
	}

	return &Limiter{
		cache:    expirable.NewLRU(cfg.UniqueTokenPerInterval, onEvict, cfg.Interval),
		interval: cfg.Interval.Milliseconds(),
		max:      cfg.MaxRequests,
		now:      cfg.Now,
	}, nil
}

// Check consumes one unit of quota for key when the window has room.
func (l *Limiter) Check(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()
	stored, _ := l.cache.Get(key)
	window := prune(stored, now-l.interval)

	count := len(window)
	allowed := count < l.max
	if allowed {
		window = append(window, now)
		l.cache.Add(key, window)
	}

	return l.decision(now, count, allowed)
}

// Peek reports what Check would decide without consuming quota or touching
// the key's recency.
func (l *Limiter) Peek(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()
	stored, _ := l.cache.Peek(key)
	count := countAfter(stored, now-l.interval)

	return l.decision(now, count, count < l.max)
}

// Reset forgets key entirely, restoring its full quota.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.Remove(key)
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	return l.cache.Len()
}

// Limit returns the configured number of requests per window.
func (l *Limiter) Limit() int { return l.max }

// Interval returns the configured window length.
func (l *Limiter) Interval() time.Duration {
	return time.Duration(l.interval) * time.Millisecond
}

// RetryAfter returns the whole seconds until d.ResetAt, never less than 1.
func (l *Limiter) RetryAfter(d Decision) int {
	secs := d.ResetAt - l.now().Unix()
	if secs < 1 {
		return 1
	}
	return int(secs)
}

func (l *Limiter) decision(nowMs int64, count int, allowed bool) Decision {
	used := count
	if allowed {
		used++
	}

	return Decision{
		Allowed:   allowed,
		Limit:     l.max,
		Remaining: max(0, l.max-used),
		ResetAt:   ceilDiv(nowMs+l.interval, 1000),
	}
}

// prune returns the timestamps strictly newer than cutoff in a fresh slice so
// the cached value is never mutated in place.
func prune(stamps []int64, cutoff int64) []int64 {
	out := make([]int64, 0, len(stamps)+1)
	for _, ts := range stamps {
		if ts > cutoff {
			out = append(out, ts)
		}
	}
	return out
}

func countAfter(stamps []int64, cutoff int64) int {
	n := 0
	for _, ts := range stamps {
		if ts > cutoff {
			n++
		}
	}
	return n
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return q
}
