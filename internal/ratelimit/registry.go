package ratelimit

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Quarantine reasons.
const (
	ReasonRepeatedViolations = "repeated violations"
	ReasonManual             = "manual"
)

// Quarantine is an entry of the suspicious-key registry.
type Quarantine struct {
	Key        string
	Reason     string
	Violations int
	FlaggedAt  time.Time
	ExpiresAt  time.Time
}

// Registry holds the keys denied outright after repeated violations. Each
// entry expires a fixed quarantine period after it was admitted; expired
// entries are dropped on read and by the engine's sweep.
type Registry struct {
	now       Clock
	threshold int
	duration  time.Duration

	mu      sync.Mutex
	blocked map[string]Quarantine
}

// NewRegistry creates a registry admitting keys at threshold violations and
// keeping them for duration.
func NewRegistry(clock Clock, threshold int, duration time.Duration) *Registry {
	return &Registry{
		now:       orNow(clock),
		threshold: threshold,
		duration:  duration,
		blocked:   make(map[string]Quarantine),
	}
}

// FlagIfNeeded admits key once its violation count reaches the threshold.
// A key already in quarantine keeps its original expiry. It reports whether
// the key was newly admitted.
func (r *Registry) FlagIfNeeded(key string, violations int) bool {
	if violations < r.threshold {
		return false
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if q, exists := r.blocked[key]; exists && now.Before(q.ExpiresAt) {
		return false
	}

	r.blocked[key] = Quarantine{
		Key:        key,
		Reason:     ReasonRepeatedViolations,
		Violations: violations,
		FlaggedAt:  now,
		ExpiresAt:  now.Add(r.duration),
	}
	slog.Warn("Key flagged for suspicious activity",
		"key", key,
		"violations", violations,
		"quarantine", r.duration.String(),
	)
	return true
}

// Flag admits key unconditionally, replacing any existing entry.
func (r *Registry) Flag(key, reason string) Quarantine {
	now := r.now()
	q := Quarantine{
		Key:       key,
		Reason:    reason,
		FlaggedAt: now,
		ExpiresAt: now.Add(r.duration),
	}

	r.mu.Lock()
	r.blocked[key] = q
	r.mu.Unlock()

	slog.Warn("Key quarantined", "key", key, "reason", reason)
	return q
}

// IsBlocked reports whether key is currently quarantined.
func (r *Registry) IsBlocked(key string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	q, exists := r.blocked[key]
	if !exists {
		return false
	}
	if !now.Before(q.ExpiresAt) {
		delete(r.blocked, key)
		slog.Info("Key removed from suspicious list", "key", key)
		return false
	}
	return true
}

// Unblock removes key from quarantine. It reports whether the key was present.
func (r *Registry) Unblock(key string) bool {
	r.mu.Lock()
	_, exists := r.blocked[key]
	delete(r.blocked, key)
	r.mu.Unlock()

	if exists {
		slog.Info("Key unblocked", "key", key)
	}
	return exists
}

// List returns the live quarantine entries ordered by flagging time.
func (r *Registry) List() []Quarantine {
	now := r.now()

	r.mu.Lock()
	out := make([]Quarantine, 0, len(r.blocked))
	for _, q := range r.blocked {
		if now.Before(q.ExpiresAt) {
			out = append(out, q)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FlaggedAt.Equal(out[j].FlaggedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].FlaggedAt.Before(out[j].FlaggedAt)
	})
	return out
}

// Len returns the number of entries, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocked)
}

func (r *Registry) evictExpired() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, q := range r.blocked {
		if !now.Before(q.ExpiresAt) {
			delete(r.blocked, key)
			evicted++
		}
	}
	return evicted
}

// restore installs an entry from a snapshot if it has not expired yet.
func (r *Registry) restore(q Quarantine) {
	if !r.now().Before(q.ExpiresAt) {
		return
	}
	r.mu.Lock()
	r.blocked[q.Key] = q
	r.mu.Unlock()
}
