package scheduler

import (
	"time"

	"dronecraft.ai/internal/sim/jobs"
)

type Metrics struct {
	Tick        uint64         `json:"tick"`
	Dirty       int            `json:"dirty"`
	Tracked     int            `json:"intents"`
	Jobs        map[string]int `json:"jobs"`
	Assigned    int            `json:"assigned"`
	Drones      int            `json:"drones"`
	DroneStates map[string]int `json:"drone_states"`
	Retired     uint64         `json:"retired"`
	StepMS      float64        `json:"step_ms"`
	Digest      string         `json:"digest"`
}

// Metrics returns the figures recorded at the end of the last tick.
func (s *Scheduler) Metrics() Metrics {
	m, _ := s.metrics.Load().(Metrics)
	return m
}

func (s *Scheduler) collectMetrics(now uint64, digest string, took time.Duration) Metrics {
	counts, assigned := s.jobs.Counts()
	m := Metrics{
		Tick:        now,
		Dirty:       s.ledger.DirtyCount(),
		Tracked:     len(s.ledger.Intents()),
		Jobs:        make(map[string]int, len(counts)),
		Assigned:    assigned,
		Drones:      len(s.drones),
		DroneStates: map[string]int{},
		Retired:     s.retired,
		StepMS:      float64(took.Microseconds()) / 1000,
		Digest:      digest,
	}
	for _, k := range []jobs.Kind{jobs.Construction, jobs.MarkerRemoval, jobs.DirectDeconstruct, jobs.Hibernating} {
		m.Jobs[k.String()] = counts[k]
	}
	for _, d := range s.drones {
		m.DroneStates[d.State.String()]++
	}
	return m
}
