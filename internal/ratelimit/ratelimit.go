// Package ratelimit throttles inbound traffic: a token bucket per WebSocket
// connection and a per-client quota for the HTTP API, kept either in process
// or in Redis when several relays share one.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// NewBucket returns a token bucket holding burst tokens that refills fully
// once per interval.
func NewBucket(burst int, interval time.Duration) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst)
}

type entry struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// Local keeps one token bucket per key in memory. Buckets idle for longer than
// the window are dropped on later calls.
type Local struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*entry
	sweep   time.Time
	now     func() time.Time
}

// NewLocal allows limit calls per window for each key.
func NewLocal(limit int, window time.Duration) *Local {
	if window <= 0 {
		window = time.Minute
	}
	return &Local{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket.
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.sweep) > l.window {
		for k, e := range l.buckets {
			if now.Sub(e.lastSeen) > l.window {
				delete(l.buckets, k)
			}
		}
		l.sweep = now
	}

	e := l.buckets[key]
	if e == nil {
		e = &entry{bucket: NewBucket(l.limit, l.window)}
		l.buckets[key] = e
	}
	e.lastSeen = now
	return e.bucket.AllowN(now, 1), nil
}

// Len returns the number of tracked keys.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
