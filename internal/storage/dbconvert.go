package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"reqshield/internal/models"
)

// timeLayout is the text encoding of timestamps in backends without a native
// time type. It sorts lexically in time order for UTC values.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// normalize returns a copy of snap with UTC timestamps and entries ordered by
// key, so every backend round-trips to the same value.
func normalize(snap *models.DefenseSnapshot) *models.DefenseSnapshot {
	out := &models.DefenseSnapshot{
		Violations:  make([]models.ViolationSnapshot, 0, len(snap.Violations)),
		Quarantines: make([]models.QuarantineInfo, 0, len(snap.Quarantines)),
		SavedAt:     snap.SavedAt.UTC(),
	}
	for _, v := range snap.Violations {
		v.LastViolationAt = v.LastViolationAt.UTC()
		out.Violations = append(out.Violations, v)
	}
	for _, q := range snap.Quarantines {
		q.FlaggedAt = q.FlaggedAt.UTC()
		q.ExpiresAt = q.ExpiresAt.UTC()
		out.Quarantines = append(out.Quarantines, q)
	}
	sort.Slice(out.Violations, func(i, j int) bool { return out.Violations[i].Key < out.Violations[j].Key })
	sort.Slice(out.Quarantines, func(i, j int) bool { return out.Quarantines[i].Key < out.Quarantines[j].Key })
	return out
}

// encodeSnapshot is the wire form used by the file and redis backends.
func encodeSnapshot(snap *models.DefenseSnapshot) ([]byte, error) {
	data, err := json.MarshalIndent(normalize(snap), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*models.DefenseSnapshot, error) {
	var snap models.DefenseSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return normalize(&snap), nil
}
