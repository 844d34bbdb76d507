package models

import "time"

// DefenseSnapshot is the persisted form of the state that must survive a
// restart: violation records (so penalties keep escalating) and quarantined
// keys (so a restart is not an amnesty). Window and bucket counters are
// short-lived and are not persisted.
type DefenseSnapshot struct {
	Violations  []ViolationSnapshot `json:"violations"`
	Quarantines []QuarantineInfo    `json:"quarantines"`
	SavedAt     time.Time           `json:"saved_at"`
}

type ViolationSnapshot struct {
	Key             string    `json:"key"`
	Count           int       `json:"count"`
	LastViolationAt time.Time `json:"last_violation_at"`
}

// Empty reports whether the snapshot carries no state.
func (s *DefenseSnapshot) Empty() bool {
	return s == nil || (len(s.Violations) == 0 && len(s.Quarantines) == 0)
}
