package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucketEntry holds a key's limiter and the last time it was checked.
type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BucketResult is the outcome of a token bucket check.
type BucketResult struct {
	Result
	TokensLeft float64
}

// TokenBucket is a burst-tolerant limiter backed by golang.org/x/time/rate.
// Each key starts with a full bucket that refills continuously at
// refillPerWindow tokens per window; a request consumes one token. All
// reads go through the injected clock.
type TokenBucket struct {
	now Clock

	mu      sync.Mutex
	entries map[string]*bucketEntry
}

// NewTokenBucket creates an empty token bucket limiter.
func NewTokenBucket(clock Clock) *TokenBucket {
	return &TokenBucket{
		now:     orNow(clock),
		entries: make(map[string]*bucketEntry),
	}
}

// refillLimit converts a per-window refill into a per-second rate.
func refillLimit(refillPerWindow float64, window time.Duration) rate.Limit {
	if window <= 0 || refillPerWindow <= 0 {
		return 0
	}
	return rate.Limit(refillPerWindow / window.Seconds())
}

// Check consumes a token from the key's bucket if one is available. A denied
// check consumes nothing.
func (b *TokenBucket) Check(key string, size int, refillPerWindow float64, window time.Duration) BucketResult {
	now := b.now()

	b.mu.Lock()
	e, exists := b.entries[key]
	if !exists {
		e = &bucketEntry{limiter: rate.NewLimiter(refillLimit(refillPerWindow, window), size)}
		b.entries[key] = e
	}
	e.lastSeen = now
	b.mu.Unlock()

	allowed := e.limiter.AllowN(now, 1)
	tokens := math.Max(0, e.limiter.TokensAt(now))

	res := BucketResult{Result: Result{Allowed: allowed, Limit: size}, TokensLeft: tokens}
	if allowed {
		res.Remaining = int(math.Floor(tokens))
		return res
	}
	if refillPerWindow > 0 && tokens < 1 {
		res.RetryAfter = time.Duration((1 - tokens) * float64(window) / refillPerWindow)
	}
	return res
}

// Len returns the number of keys currently tracked.
func (b *TokenBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// evictIdle drops buckets not checked since cutoff. An idle bucket has long
// since refilled to capacity, so dropping it is equivalent to keeping it.
func (b *TokenBucket) evictIdle(cutoff time.Time, keep func(string) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	for key, e := range b.entries {
		if !e.lastSeen.Before(cutoff) {
			continue
		}
		if keep != nil && keep(key) {
			continue
		}
		delete(b.entries, key)
		evicted++
	}
	return evicted
}
