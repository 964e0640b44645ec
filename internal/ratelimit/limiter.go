// Package ratelimit provides per-client token bucket rate limiting for
// the hub's write endpoints.
package ratelimit

import (
	"sync"
	"time"
)

// maxIdleBuckets bounds the bucket map. Keys are client addresses, so
// unlike a fixed tool table the map can grow without limit; once it
// passes this size, buckets idle for longer than a full refill are
// dropped on the next Allow.
const maxIdleBuckets = 1024

// Limiter is a per-key token bucket limiter. Each key gets its own
// bucket with the configured rate and burst. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // max burst size, also the initial token count
	nowFunc func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a limiter allowing rate tokens per second with
// the given burst. The burst is also the initial token count, so a
// fresh key can issue burst requests back to back.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow reports whether a request for key may proceed, consuming one
// token when it may.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	if len(l.buckets) > maxIdleBuckets {
		l.prune(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastCheck: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastCheck).Seconds()
	if elapsed > 0 {
		b.tokens += l.rate * elapsed
		if b.tokens > float64(l.burst) {
			b.tokens = float64(l.burst)
		}
		b.lastCheck = now
	}

	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// prune drops buckets that have been idle long enough to be full
// again; their next request behaves exactly as a fresh key's would.
// At zero rate buckets never refill, so nothing is prunable.
func (l *Limiter) prune(now time.Time) {
	if l.rate <= 0 {
		return
	}
	refill := time.Duration(float64(l.burst) / l.rate * float64(time.Second))
	for key, b := range l.buckets {
		if now.Sub(b.lastCheck) > refill {
			delete(l.buckets, key)
		}
	}
}
