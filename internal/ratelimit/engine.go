package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"reqshield/internal/models"
)

// Observer is notified of every decision. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ObserveDecision(ctx context.Context, d Decision)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source shared by every component.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.now = c
	}
}

// WithObserver registers a decision observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

type classCounters struct {
	allowed atomic.Int64
	denied  atomic.Int64
}

// Engine owns all defense state of the process and produces one Decision per
// request. It is constructed once and shared by every request handler.
type Engine struct {
	policy   Policy
	now      Clock
	observer Observer
	router   *Router

	authWindow    *SlidingWindow
	generalWindow *SlidingWindow
	buckets       *TokenBucket
	adaptive      *AdaptiveWindow
	violations    *ViolationTracker
	registry      *Registry

	counters map[EndpointClass]*classCounters

	done      chan struct{}
	closeOnce sync.Once
}

// NewEngine validates the policy and builds an engine. When the policy has a
// sweep interval, a background goroutine evicts stale state until Close.
func NewEngine(p Policy, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid defense policy: %w", err)
	}

	e := &Engine{
		policy: p,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.now = orNow(e.now)

	e.router = NewRouter(p.APIPrefix, p.Routes)
	e.authWindow = NewSlidingWindow(e.now)
	e.generalWindow = NewSlidingWindow(e.now)
	e.buckets = NewTokenBucket(e.now)
	e.adaptive = NewAdaptiveWindow(e.now)
	e.violations = NewViolationTracker(e.now, p.ViolationDecay, p.PenaltyCap)
	e.registry = NewRegistry(e.now, p.ViolationThreshold, p.QuarantineDuration)

	e.counters = make(map[EndpointClass]*classCounters, len(Classes))
	for _, class := range Classes {
		e.counters[class] = &classCounters{}
	}

	if p.SweepInterval > 0 {
		go e.sweepLoop(p.SweepInterval)
	}
	return e, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Classify returns the endpoint class of path.
func (e *Engine) Classify(path string) EndpointClass {
	return e.router.Classify(path)
}

// Registry exposes the suspicious-key registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Violations exposes the violation tracker.
func (e *Engine) Violations() *ViolationTracker {
	return e.violations
}

// Decide evaluates a request in order: allowlist, quarantine, active
// penalty, then the class limiter. A quarantined IP blocks authenticated
// identities from that IP as well. A denial from the class limiter is
// recorded as a violation and may put the key into quarantine.
func (e *Engine) Decide(ctx context.Context, id Identity, class EndpointClass, meta RequestMetadata) Decision {
	d := e.decide(id, class, meta)
	if c, ok := e.counters[class]; ok {
		if d.Allow {
			c.allowed.Add(1)
		} else {
			c.denied.Add(1)
		}
	}
	if e.observer != nil {
		e.observer.ObserveDecision(ctx, d)
	}
	return d
}

func (e *Engine) decide(id Identity, class EndpointClass, meta RequestMetadata) Decision {
	if class == ClassExempt || e.allowlisted(id.IP) {
		return Decision{Allow: true, Class: class}
	}

	if e.registry.IsBlocked(id.Key) || e.registry.IsBlocked(id.IPKey()) {
		return deny(class, DenialSuspiciousKeyBlocked, blockedText)
	}

	cp := e.policy.For(class)
	if remaining, rec := e.violations.PenaltyRemaining(id.Key, cp.PenaltyBase); remaining > 0 {
		d := deny(class, DenialProgressivePenalty, penaltyText)
		d.Reason = fmt.Sprintf("Penalty active due to %d violations", rec.Count)
		d.RetryAfter = remaining
		d.PenaltyEndsAt = e.now().Add(remaining)
		d.Violations = rec.Count
		return d
	}

	d := e.checkClass(id, class, cp, meta)
	if d.Allow {
		return d
	}

	d.Violations = e.violations.Record(id.Key)
	d.Flagged = e.registry.FlagIfNeeded(id.Key, d.Violations)
	return d
}

func (e *Engine) checkClass(id Identity, class EndpointClass, cp ClassPolicy, meta RequestMetadata) Decision {
	var res Result

	switch class {
	case ClassAuth:
		res = e.authWindow.Check(id.Key, cp.Window, cp.MaxRequests)
	case ClassUpload:
		res = e.buckets.Check(id.Key, cp.BucketSize, cp.RefillRate, cp.Window).Result
	case ClassAIAnalysis:
		rec, ok := e.violations.Get(id.Key)
		res = e.adaptive.Check(id.Key, e.policy.adaptiveParams(), rec, ok)
	default:
		limit := ScaledLimit(cp.MaxRequests, Score(meta))
		if limit < 1 {
			return deny(class, DenialBehaviorSuspicious, suspiciousBehaviorText)
		}
		res = e.generalWindow.Check(id.Key, cp.Window, limit)
	}

	if res.Allowed {
		return allow(class, res)
	}

	d := deny(class, DenialRateLimitExceeded, limitText[class])
	d.Limit = res.Limit
	d.RetryAfter = res.RetryAfter
	return d
}

func (e *Engine) allowlisted(ip string) bool {
	if len(e.policy.Allowlist) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range e.policy.Allowlist {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Stats summarises the engine state for the admin API.
func (e *Engine) Stats() models.DefenseStatsResponse {
	decisions := make(map[string]models.ClassStats, len(e.counters))
	for class, c := range e.counters {
		decisions[string(class)] = models.ClassStats{
			Allowed: c.allowed.Load(),
			Denied:  c.denied.Load(),
		}
	}
	return models.DefenseStatsResponse{
		TrackedWindowKeys:   e.authWindow.Len() + e.generalWindow.Len() + e.adaptive.Len(),
		TrackedBucketKeys:   e.buckets.Len(),
		ActiveViolationKeys: len(e.violations.snapshot()),
		QuarantinedKeys:     len(e.registry.List()),
		Decisions:           decisions,
		Timestamp:           e.now(),
	}
}

// SweepResult reports what a sweep evicted.
type SweepResult struct {
	Windows     int
	Buckets     int
	Adaptive    int
	Violations  int
	Quarantines int
}

// Sweep evicts state idle for longer than the policy's idle TTL. Keys holding
// a live violation record keep their counters. Each component is swept under
// its own lock, so a concurrent check on a key sees it either before or after
// eviction, never in between.
func (e *Engine) Sweep() SweepResult {
	cutoff := e.now().Add(-e.policy.IdleTTL)
	keep := e.violations.Active

	res := SweepResult{
		Violations:  e.violations.evictDecayed(),
		Quarantines: e.registry.evictExpired(),
	}
	res.Windows = e.authWindow.evictIdle(cutoff, keep) + e.generalWindow.evictIdle(cutoff, keep)
	res.Buckets = e.buckets.evictIdle(cutoff, keep)
	res.Adaptive = e.adaptive.evictIdle(cutoff, keep)
	return res
}

func (e *Engine) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			res := e.Sweep()
			slog.Debug("Defense state swept",
				"windows", res.Windows,
				"buckets", res.Buckets,
				"adaptive", res.Adaptive,
				"violations", res.Violations,
				"quarantines", res.Quarantines,
			)
		}
	}
}

// Snapshot copies out the state worth persisting across restarts.
func (e *Engine) Snapshot() *models.DefenseSnapshot {
	snap := &models.DefenseSnapshot{SavedAt: e.now()}
	for key, rec := range e.violations.snapshot() {
		snap.Violations = append(snap.Violations, models.ViolationSnapshot{
			Key:             key,
			Count:           rec.Count,
			LastViolationAt: rec.LastViolationAt,
		})
	}
	for _, q := range e.registry.List() {
		snap.Quarantines = append(snap.Quarantines, models.QuarantineInfo{
			Key:        q.Key,
			Reason:     q.Reason,
			Violations: q.Violations,
			FlaggedAt:  q.FlaggedAt,
			ExpiresAt:  q.ExpiresAt,
		})
	}
	return snap
}

// Restore loads a snapshot. Expired quarantines and decayed records are
// skipped; state already held by the engine wins over older snapshot data.
func (e *Engine) Restore(snap *models.DefenseSnapshot) {
	if snap.Empty() {
		return
	}
	now := e.now()
	for _, v := range snap.Violations {
		if v.Count <= 0 || now.Sub(v.LastViolationAt) > e.policy.ViolationDecay {
			continue
		}
		e.violations.restore(v.Key, ViolationRecord{Count: v.Count, LastViolationAt: v.LastViolationAt})
	}
	for _, q := range snap.Quarantines {
		e.registry.restore(Quarantine{
			Key:        q.Key,
			Reason:     q.Reason,
			Violations: q.Violations,
			FlaggedAt:  q.FlaggedAt,
			ExpiresAt:  q.ExpiresAt,
		})
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}
