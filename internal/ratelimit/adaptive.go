package ratelimit

import (
	"sync"
	"time"
)

// AdaptiveParams configures an adaptive window.
type AdaptiveParams struct {
	BaseMax      int
	Window       time.Duration
	IncreaseStep int // Added per clean window since the last violation
	DecreaseStep int // Subtracted per recorded violation
	MaxIncrease  int // Cap on both the bonus and the reduction
}

type adaptiveSeen struct {
	first time.Time
	last  time.Time
}

// AdaptiveWindow is a sliding window whose limit grows while a key behaves
// and shrinks as it accumulates violations. The limit never drops below 1.
type AdaptiveWindow struct {
	now    Clock
	window *SlidingWindow

	mu   sync.Mutex
	seen map[string]*adaptiveSeen
}

// NewAdaptiveWindow creates an empty adaptive window.
func NewAdaptiveWindow(clock Clock) *AdaptiveWindow {
	clock = orNow(clock)
	return &AdaptiveWindow{
		now:    clock,
		window: NewSlidingWindow(clock),
		seen:   make(map[string]*adaptiveSeen),
	}
}

// Limit computes the effective limit for key. Good behavior is measured in
// whole windows elapsed since the key's last violation, or since it was first
// seen when it has none.
func (a *AdaptiveWindow) Limit(key string, p AdaptiveParams, rec ViolationRecord, hasViolations bool) int {
	now := a.now()

	a.mu.Lock()
	s, exists := a.seen[key]
	if !exists {
		s = &adaptiveSeen{first: now}
		a.seen[key] = s
	}
	s.last = now
	since := s.first
	a.mu.Unlock()

	if hasViolations {
		since = rec.LastViolationAt
	}

	bonus := 0
	if p.Window > 0 && p.IncreaseStep > 0 {
		clean := int(now.Sub(since) / p.Window)
		bonus = min(clean*p.IncreaseStep, p.MaxIncrease)
	}

	reduction := 0
	if hasViolations {
		reduction = min(rec.Count*p.DecreaseStep, p.MaxIncrease)
	}

	return max(1, p.BaseMax+bonus-reduction)
}

// Check applies the effective limit for key to its sliding window.
func (a *AdaptiveWindow) Check(key string, p AdaptiveParams, rec ViolationRecord, hasViolations bool) Result {
	limit := a.Limit(key, p, rec, hasViolations)
	return a.window.Check(key, p.Window, limit)
}

// Len returns the number of keys with recorded activity.
func (a *AdaptiveWindow) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}

func (a *AdaptiveWindow) evictIdle(cutoff time.Time, keep func(string) bool) int {
	a.mu.Lock()
	evicted := 0
	for key, s := range a.seen {
		if !s.last.Before(cutoff) {
			continue
		}
		if keep != nil && keep(key) {
			continue
		}
		delete(a.seen, key)
		evicted++
	}
	a.mu.Unlock()

	a.window.evictIdle(cutoff, keep)
	return evicted
}
