// Package ratelimit implements a per-principal token-bucket rate
// limiter. The single-bucket mechanics (tokens, refillRate, elapsed-time
// refill) are grounded on chycee-CryptoGo/internal/infra.RateLimiter;
// keying one bucket per identifier, the retryAfterSeconds ceiling
// formula, and the idle-and-full eviction sweep are grounded on
// original_source/ratelimit/TokenBucketRateLimiter.java and
// RateLimitConfig.java.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// cleanupIdleThreshold is how long a full bucket must sit untouched
// before it is evicted, matching RateLimitConfig's 5-minute sweep.
const cleanupIdleThreshold = 300 * time.Second

// bucket is a single principal's token bucket. Refill is elapsed-seconds
// based, exactly as the teacher's RateLimiter.refill does it.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

func newBucket(capacity, refillRate float64, now time.Time) *bucket {
	return &bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: now,
		lastUsed:   now,
	}
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func (b *bucket) tryAcquire(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	b.lastUsed = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// retryAfterSeconds returns ceil((1 - tokens) / refillRate), the wait
// until the next token is available.
func (b *bucket) retryAfterSeconds(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.tokens >= 1 {
		return 0
	}
	return int(math.Ceil((1 - b.tokens) / b.refillRate))
}

func (b *bucket) isFullAndIdle(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens >= b.capacity && now.Sub(b.lastUsed) > cleanupIdleThreshold
}

func (b *bucket) reset(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.capacity
	b.lastRefill = now
	b.lastUsed = now
}

// Limiter holds one bucket per principal (user ID, IP, API key — any
// string identifier the caller chooses).
type Limiter struct {
	capacity   float64
	refillRate float64

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New constructs a Limiter where each principal gets a bucket of the
// given capacity, refilling at refillRate tokens/second.
func New(capacity int, refillRatePerSec float64) *Limiter {
	return &Limiter{
		capacity:   float64(capacity),
		refillRate: refillRatePerSec,
		buckets:    make(map[string]*bucket),
	}
}

func (l *Limiter) bucketFor(identifier string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[identifier]
	if !ok {
		b = newBucket(l.capacity, l.refillRate, now)
		l.buckets[identifier] = b
	}
	return b
}

// TryAcquire attempts to consume one token for identifier without
// blocking.
func (l *Limiter) TryAcquire(identifier string) bool {
	now := time.Now()
	return l.bucketFor(identifier, now).tryAcquire(now)
}

// RetryAfterSeconds returns how long identifier must wait before its
// next token is available (0 if one is available now).
func (l *Limiter) RetryAfterSeconds(identifier string) int {
	now := time.Now()
	return l.bucketFor(identifier, now).retryAfterSeconds(now)
}

// Reset restores identifier's bucket to full capacity.
func (l *Limiter) Reset(identifier string) {
	now := time.Now()
	l.bucketFor(identifier, now).reset(now)
}

// Cleanup removes buckets that are both full and idle for longer than
// cleanupIdleThreshold, bounding memory use for a high-cardinality
// identifier space (e.g. per-IP limiting).
func (l *Limiter) Cleanup() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if b.isFullAndIdle(now) {
			delete(l.buckets, id)
		}
	}
}

// Run starts the periodic Cleanup sweep; it blocks until ctx is
// cancelled, matching the teacher's other background-worker loops.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupIdleThreshold)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
