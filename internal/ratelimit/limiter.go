// Package ratelimit provides the adaptive request-defense engine. It combines
// sliding window and token bucket counters, a request behavior scorer,
// escalating penalties for repeat offenders and a quarantine registry, and
// routes each request to the policy of its endpoint class. It includes HTTP
// middleware that writes structured JSON denials and standard rate limit
// response headers.
//
// All state is in memory and owned by a single Engine. Every component guards
// its map with its own mutex so each per-key read-modify-write is atomic.
package ratelimit

import "time"

// Clock returns the current time. Components use time.Now unless a Clock is
// injected, which tests do to move time without sleeping.
type Clock func() time.Time

func orNow(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// Result is the outcome of a single limiter check.
type Result struct {
	Allowed    bool
	Limit      int           // Maximum requests (or bucket size) in force for the check
	Remaining  int           // Requests or whole tokens left after the check
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}
