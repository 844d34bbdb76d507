package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow counts requests per key over a trailing window. Each key holds
// the ordered timestamps of its admitted requests; timestamps older than the
// window are pruned before every count.
type SlidingWindow struct {
	now Clock

	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewSlidingWindow creates an empty sliding window counter.
func NewSlidingWindow(clock Clock) *SlidingWindow {
	return &SlidingWindow{
		now:     orNow(clock),
		entries: make(map[string][]time.Time),
	}
}

// Check admits the request when fewer than max requests were admitted for key
// within the trailing window. A rejected attempt does not consume a slot.
// A max of zero or less always denies.
func (s *SlidingWindow) Check(key string, window time.Duration, max int) Result {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := prune(s.entries[key], now.Add(-window))

	if max <= 0 || len(stamps) >= max {
		s.store(key, stamps)
		res := Result{Limit: max, RetryAfter: window}
		if len(stamps) > 0 {
			res.RetryAfter = stamps[0].Add(window).Sub(now)
		}
		return res
	}

	stamps = append(stamps, now)
	s.entries[key] = stamps

	return Result{
		Allowed:   true,
		Limit:     max,
		Remaining: max - len(stamps),
	}
}

// Count returns how many admitted requests for key fall inside the window.
func (s *SlidingWindow) Count(key string, window time.Duration) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := prune(s.entries[key], now.Add(-window))
	s.store(key, stamps)
	return len(stamps)
}

// Len returns the number of keys currently tracked.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *SlidingWindow) store(key string, stamps []time.Time) {
	if len(stamps) == 0 {
		delete(s.entries, key)
		return
	}
	s.entries[key] = stamps
}

// evictIdle drops keys whose newest request is older than cutoff, unless keep
// reports that the key must be retained.
func (s *SlidingWindow) evictIdle(cutoff time.Time, keep func(string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, stamps := range s.entries {
		if len(stamps) > 0 && !stamps[len(stamps)-1].Before(cutoff) {
			continue
		}
		if keep != nil && keep(key) {
			continue
		}
		delete(s.entries, key)
		evicted++
	}
	return evicted
}

// prune drops the leading timestamps strictly older than cutoff. Timestamps
// are appended in arrival order, so the slice stays sorted.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	return stamps[i:]
}
