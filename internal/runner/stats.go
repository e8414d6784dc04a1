package runner

import (
	"sync"
	"time"
)

// StatsSnapshot is an immutable copy of the runner's counters, shaped for the
// stats endpoint.
type StatsSnapshot struct {
	StartedAt        time.Time     `json:"started_at"`
	CyclesRun        int64         `json:"cycles_run"`
	CyclesSkipped    int64         `json:"cycles_skipped"`
	CyclesFailed     int64         `json:"cycles_failed"`
	SignalsGenerated int64         `json:"signals_generated"`
	Holds            int64         `json:"holds"`
	LastCycleAt      time.Time     `json:"last_cycle_at"`
	LastDuration     time.Duration `json:"last_duration_ns"`
	LastError        string        `json:"last_error,omitempty"`
	LastErrorAt      time.Time     `json:"last_error_at,omitzero"`
}

// Stats accumulates cycle outcomes. All methods are safe for concurrent use.
type Stats struct {
	mu   sync.Mutex
	snap StatsSnapshot
}

func NewStats(startedAt time.Time) *Stats {
	return &Stats{snap: StatsSnapshot{StartedAt: startedAt}}
}

func (s *Stats) record(res Result, at time.Time, took time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch res {
	case ResultSkipped:
		s.snap.CyclesSkipped++
		return
	case ResultGenerated:
		s.snap.SignalsGenerated++
	case ResultHold:
		s.snap.Holds++
	case ResultFailed:
		s.snap.CyclesFailed++
	}
	s.snap.CyclesRun++
	s.snap.LastCycleAt = at
	s.snap.LastDuration = took
	if err != nil {
		s.snap.LastError = err.Error()
		s.snap.LastErrorAt = at
	}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
