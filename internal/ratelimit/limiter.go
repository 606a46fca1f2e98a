// Package ratelimit throttles toggle requests per client.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/toggled/internal/clock"
)

// Limiter holds one fixed-window bucket per key.
type Limiter struct {
	limit    int
	interval time.Duration
	clock    clock.Clock

	mu       sync.Mutex
	limiters map[string]*bucket
}

// bucket refills to limit once interval has passed since the last fill.
type bucket struct {
	tokens   int
	lastFill time.Time
	lastUsed time.Time
}

// NewLimiter allows limit requests per key in each interval.
func NewLimiter(limit int, interval time.Duration, clk clock.Clock) *Limiter {
	return &Limiter{
		limit:    limit,
		interval: interval,
		clock:    clock.OrReal(clk),
		limiters: make(map[string]*bucket),
	}
}

// Allow reports whether a request for key may proceed and takes a token
// if so.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN takes n tokens for key, or none if fewer are available.
func (l *Limiter) AllowN(key string, n int) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.limiters[key]
	if !exists {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.limiters[key] = b
	}
	b.lastUsed = now

	if now.Sub(b.lastFill) >= l.interval {
		b.tokens = l.limit
		b.lastFill = now
	}
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// RetryAfter returns how long key must wait for its bucket to refill.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.limiters[key]
	if !ok {
		return 0
	}
	wait := l.interval - l.clock.Since(b.lastFill)
	if wait < 0 {
		return 0
	}
	return wait
}

// Reset clears the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

// CleanupExpired drops buckets idle for longer than maxAge and returns
// how many were removed.
func (l *Limiter) CleanupExpired(maxAge time.Duration) int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.limiters {
		if now.Sub(b.lastUsed) > maxAge {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
