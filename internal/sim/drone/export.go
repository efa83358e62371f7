package drone

import (
	"fmt"

	"go.uber.org/zap"

	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/inventory"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/tuning"
)

type JobRecord struct {
	Pos    [3]int `json:"pos"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// Record is the persisted form of a drone.
type Record struct {
	ID      string         `json:"id"`
	Pos     [3]int         `json:"pos"`
	Home    *[3]int        `json:"home,omitempty"`
	Carried map[string]int `json:"carried,omitempty"`
	Energy  int            `json:"energy"`
	State   string         `json:"state"`
	Job     *JobRecord     `json:"job,omitempty"`

	FetchFrom   *[3]int `json:"fetch_from,omitempty"`
	DumpTo      *[3]int `json:"dump_to,omitempty"`
	ResumeClear bool    `json:"resume_clear,omitempty"`
	Retiring    bool    `json:"retiring,omitempty"`
	DumpFailed  bool    `json:"dump_failed,omitempty"`
	Backoff     int     `json:"backoff,omitempty"`
	NextSearch  uint64  `json:"next_search,omitempty"`
	HoldUntil   uint64  `json:"hold_until,omitempty"`
	JobSince    uint64  `json:"job_since,omitempty"`
	IdleSince   uint64  `json:"idle_since,omitempty"`
}

func coordPtr(p *grid.Coord) *[3]int {
	if p == nil {
		return nil
	}
	a := p.Array()
	return &a
}

func fromPtr(a *[3]int) *grid.Coord {
	if a == nil {
		return nil
	}
	c := grid.FromArray(*a)
	return &c
}

func (d *Drone) Export() Record {
	rec := Record{
		ID:          d.ID,
		Pos:         d.Pos.Array(),
		Home:        coordPtr(d.Home),
		Carried:     d.Carried.Items(),
		Energy:      d.Energy,
		State:       d.State.String(),
		FetchFrom:   coordPtr(d.fetchFrom),
		DumpTo:      coordPtr(d.dumpTo),
		ResumeClear: d.resumeClear,
		Retiring:    d.retiring,
		DumpFailed:  d.dumpFailed,
		Backoff:     d.backoff,
		NextSearch:  d.nextSearch,
		HoldUntil:   d.holdUntil,
		JobSince:    d.jobSince,
		IdleSince:   d.idleSince,
	}
	if len(rec.Carried) == 0 {
		rec.Carried = nil
	}
	if d.Job != nil {
		rec.Job = &JobRecord{Pos: d.Job.Pos.Array(), Kind: d.Job.Kind.String(), Target: d.Job.Target.String()}
	}
	return rec
}

// FromRecord rebuilds a live drone from its persisted form.
func FromRecord(rec Record, cfg tuning.DroneTuning, log *zap.Logger) (*Drone, error) {
	st, ok := ParseState(rec.State)
	if !ok {
		return nil, fmt.Errorf("drone %s: unknown state %q", rec.ID, rec.State)
	}
	d := New(rec.ID, grid.FromArray(rec.Pos), fromPtr(rec.Home), cfg, log, rec.IdleSince)
	d.Carried = inventory.FromItems(cfg.Slots, cfg.StackSize, rec.Carried)
	d.Energy = rec.Energy
	d.State = st
	d.fetchFrom = fromPtr(rec.FetchFrom)
	d.dumpTo = fromPtr(rec.DumpTo)
	d.resumeClear = rec.ResumeClear
	d.retiring = rec.Retiring
	d.dumpFailed = rec.DumpFailed
	d.backoff = rec.Backoff
	d.nextSearch = rec.NextSearch
	d.holdUntil = rec.HoldUntil
	d.jobSince = rec.JobSince
	if rec.Job != nil {
		kind, ok := jobs.ParseKind(rec.Job.Kind)
		if !ok {
			return nil, fmt.Errorf("drone %s: unknown job kind %q", rec.ID, rec.Job.Kind)
		}
		target, err := cell.Parse(rec.Job.Target)
		if err != nil {
			return nil, fmt.Errorf("drone %s: %w", rec.ID, err)
		}
		d.Job = &JobRef{Pos: grid.FromArray(rec.Job.Pos), Kind: kind, Target: target}
	}
	return d, nil
}
