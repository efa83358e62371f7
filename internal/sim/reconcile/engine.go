// Package reconcile diffs declared intent against the world once per tick and
// drives the job registry accordingly. Marker placement is the only world
// edit it performs itself.
package reconcile

import (
	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/ledger"
)

// Actor is the audit actor for marker edits; change hooks use it to skip
// re-dirtying coordinates the engine itself just wrote.
const Actor = "reconcile"

type World interface {
	ReadCell(pos grid.Coord) cell.State
	WriteCellBy(actor, reason string, pos grid.Coord, s cell.State) bool
	IsReplaceable(s cell.State) bool
	Markers() []grid.Coord
}

type Engine struct {
	world  World
	ledger *ledger.Ledger
	jobs   *jobs.Registry
}

func New(w World, l *ledger.Ledger, r *jobs.Registry) *Engine {
	return &Engine{world: w, ledger: l, jobs: r}
}

type Result struct {
	Visited       int `json:"visited"`
	Issued        int `json:"issued"`
	Retracted     int `json:"retracted"`
	MarkersPlaced int `json:"markers_placed"`
	MarkersClear  int `json:"markers_cleared"`
	Clean         int `json:"clean"`
}

// Changed reports whether the pass touched the registry or the world.
func (r Result) Changed() bool {
	return r.Issued+r.Retracted+r.MarkersPlaced+r.MarkersClear > 0
}

// Reconcile processes a copy of the ledger's dirty set in coordinate order.
// Coordinates that still have outstanding work stay dirty.
func (e *Engine) Reconcile() Result {
	var res Result
	for _, d := range e.ledger.Dirty() {
		res.Visited++
		if e.reconcileOne(d.Pos, &res) {
			if e.ledger.MarkClean(d.Pos, d.Gen) {
				res.Clean++
			}
		}
	}
	return res
}

func (e *Engine) reconcileOne(pos grid.Coord, res *Result) (clean bool) {
	top, ok := e.ledger.Top(pos)
	if !ok {
		return true
	}
	intent := top.State.Normalize()
	reality := e.world.ReadCell(pos)

	if intent.IsEmpty() {
		switch {
		case reality.IsEmpty():
			e.retract(pos, res)
			return true
		case reality.IsMarker():
			if e.world.WriteCellBy(Actor, "clear marker", pos, cell.Empty) {
				res.MarkersClear++
				e.retract(pos, res)
				return true
			}
			return false
		default:
			e.deconstruct(pos, cell.Empty, res)
			return false
		}
	}

	if reality == intent {
		e.retract(pos, res)
		return true
	}
	if reality.IsMarker() || e.world.IsReplaceable(reality) {
		marker := cell.Marker(intent)
		if reality != marker {
			if !e.world.WriteCellBy(Actor, "place marker", pos, marker) {
				return false
			}
			res.MarkersPlaced++
		}
		if cur, ok := e.jobs.Lookup(pos); !ok || cur.Target != intent || (cur.Kind != jobs.Construction && cur.Kind != jobs.Hibernating) {
			e.jobs.RegisterIntent(pos, intent, jobs.PhaseBuild)
			res.Issued++
		}
		return false
	}
	e.deconstruct(pos, cell.Marker(intent), res)
	return false
}

func (e *Engine) deconstruct(pos grid.Coord, after cell.State, res *Result) {
	// A sleeping deconstruct (unbreakable occupant) waits for its wake.
	if cur, ok := e.jobs.Lookup(pos); ok && cur.Target == after && (cur.Kind == jobs.DirectDeconstruct || cur.Kind == jobs.Hibernating) {
		return
	}
	e.jobs.RegisterDirectDeconstruct(pos, after)
	res.Issued++
}

func (e *Engine) retract(pos grid.Coord, res *Result) {
	if _, ok := e.jobs.Lookup(pos); ok {
		e.jobs.Remove(pos)
		res.Retracted++
	}
}

// SweepOrphanMarkers handles markers that reconciliation will not reach.
// Untracked markers become MarkerRemoval jobs; tracked markers that disagree
// with intent are re-dirtied. It returns the number of jobs issued.
func (e *Engine) SweepOrphanMarkers() int {
	issued := 0
	for _, pos := range e.world.Markers() {
		top, tracked := e.ledger.Top(pos)
		if tracked {
			if target, _ := e.world.ReadCell(pos).MarkerTarget(); target != top.State.Normalize() {
				e.ledger.MarkDirty(pos)
			}
			continue
		}
		if _, ok := e.jobs.Lookup(pos); ok {
			continue
		}
		e.jobs.RegisterIntent(pos, cell.Empty, jobs.PhaseRemoveMarker)
		issued++
	}
	return issued
}
