package ratelimit

import (
	"sync"
	"time"
)

// ViolationRecord is the denial history of a key.
type ViolationRecord struct {
	Count           int
	LastViolationAt time.Time
}

// ViolationTracker counts denials per key and derives escalating penalty
// windows from them. A record left untouched longer than the decay period
// is discarded outright rather than decremented.
type ViolationTracker struct {
	now        Clock
	decay      time.Duration
	penaltyCap int

	mu      sync.Mutex
	records map[string]*ViolationRecord
}

// NewViolationTracker creates a tracker with the given decay period and
// penalty multiplier cap.
func NewViolationTracker(clock Clock, decay time.Duration, penaltyCap int) *ViolationTracker {
	return &ViolationTracker{
		now:        orNow(clock),
		decay:      decay,
		penaltyCap: penaltyCap,
		records:    make(map[string]*ViolationRecord),
	}
}

// PenaltyWindow returns base * min(count, maxMultiplier).
func PenaltyWindow(count int, base time.Duration, maxMultiplier int) time.Duration {
	if count <= 0 || base <= 0 {
		return 0
	}
	return base * time.Duration(min(count, maxMultiplier))
}

// Record registers a denial for key and returns the updated count. A record
// whose last violation is older than the decay period starts over at 1.
func (v *ViolationTracker) Record(key string) int {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	rec, exists := v.records[key]
	if !exists || v.decayed(rec, now) {
		rec = &ViolationRecord{}
		v.records[key] = rec
	}
	rec.Count++
	rec.LastViolationAt = now
	return rec.Count
}

// Get returns the live record for key. Decayed records are deleted.
func (v *ViolationTracker) Get(key string) (ViolationRecord, bool) {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	rec, exists := v.records[key]
	if !exists {
		return ViolationRecord{}, false
	}
	if v.decayed(rec, now) {
		delete(v.records, key)
		return ViolationRecord{}, false
	}
	return *rec, true
}

// PenaltyRemaining returns how much of the key's penalty window is left, and
// the record it was computed from. Zero means no penalty is active.
func (v *ViolationTracker) PenaltyRemaining(key string, base time.Duration) (time.Duration, ViolationRecord) {
	rec, ok := v.Get(key)
	if !ok {
		return 0, ViolationRecord{}
	}
	ends := rec.LastViolationAt.Add(PenaltyWindow(rec.Count, base, v.penaltyCap))
	remaining := ends.Sub(v.now())
	if remaining <= 0 {
		return 0, rec
	}
	return remaining, rec
}

// Active reports whether key holds a non-decayed violation record.
func (v *ViolationTracker) Active(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Len returns the number of records, decayed or not.
func (v *ViolationTracker) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.records)
}

func (v *ViolationTracker) decayed(rec *ViolationRecord, now time.Time) bool {
	return now.Sub(rec.LastViolationAt) > v.decay
}

// evictDecayed drops every record older than the decay period.
func (v *ViolationTracker) evictDecayed() int {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	evicted := 0
	for key, rec := range v.records {
		if v.decayed(rec, now) {
			delete(v.records, key)
			evicted++
		}
	}
	return evicted
}

// snapshot copies out all live records.
func (v *ViolationTracker) snapshot() map[string]ViolationRecord {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(map[string]ViolationRecord, len(v.records))
	for key, rec := range v.records {
		if !v.decayed(rec, now) {
			out[key] = *rec
		}
	}
	return out
}

// restore installs a record unless a newer one is already held.
func (v *ViolationTracker) restore(key string, rec ViolationRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cur, exists := v.records[key]; exists && cur.LastViolationAt.After(rec.LastViolationAt) {
		return
	}
	r := rec
	v.records[key] = &r
}
