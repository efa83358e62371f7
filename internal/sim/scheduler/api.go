package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/drone"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/logic/blueprint"
	"dronecraft.ai/internal/sim/tuning"
)

// DeclareIntentBatch records one undoable action that sets the desired state
// of every coordinate in intents. Empty states request clearing.
func (s *Scheduler) DeclareIntentBatch(name string, intents map[grid.Coord]cell.State) (int, error) {
	snaps := make(map[grid.Coord]cell.Snapshot, len(intents))
	for p, st := range intents {
		snaps[p] = cell.Snap(st)
	}
	return s.DeclareSnapshotBatch(name, snaps)
}

// DeclareSnapshotBatch is DeclareIntentBatch with attached data. It returns the
// number of coordinates whose intent actually changed.
func (s *Scheduler) DeclareSnapshotBatch(name string, intents map[grid.Coord]cell.Snapshot) (int, error) {
	if len(intents) == 0 {
		return 0, ErrEmptyBatch
	}
	base := make(map[grid.Coord]cell.Snapshot, len(intents))
	for p, snap := range intents {
		if !s.world.InBounds(p) {
			return 0, fmt.Errorf("%w: %s", ErrOutOfBounds, p)
		}
		st := snap.State.Normalize()
		if st.IsMarker() || (!st.IsEmpty() && !s.cats.KnownBlock(st.Block)) {
			return 0, fmt.Errorf("%w: %s at %s", ErrBadState, st, p)
		}
		if !s.ledger.Tracked(p) {
			base[p] = s.naturalSnapshot(p)
		}
	}
	act := s.ledger.PushAction(name, intents, base)
	n := len(act.Applied())
	s.log.Debug("intent declared",
		zap.String("action", name),
		zap.Int("cells", len(intents)),
		zap.Int("applied", n),
	)
	return n, nil
}

// naturalSnapshot is the pre-intent content of pos. Container contents are
// not part of it; construction never restores them.
func (s *Scheduler) naturalSnapshot(pos grid.Coord) cell.Snapshot {
	st := s.world.ReadCell(pos)
	if st.IsMarker() {
		return cell.Snap(cell.Empty)
	}
	snap := cell.Snap(st)
	if !s.cats.IsContainer(st.Block) {
		if b, ok := s.world.ReadAttachedData(pos); ok {
			snap.Data = b
		}
	}
	return snap
}

type BlueprintPlan struct {
	Blueprint string         `json:"blueprint"`
	Anchor    [3]int         `json:"anchor"`
	Rotation  int            `json:"rotation"`
	Cells     int            `json:"cells"`
	Applied   int            `json:"applied"`
	Unplaced  [][3]int       `json:"unplaced"`
	Needs     map[string]int `json:"needs"`
}

// DeclareBlueprint expands a catalog blueprint at anchor into one intent batch.
func (s *Scheduler) DeclareBlueprint(name, blueprintID string, anchor grid.Coord, rotation int) (BlueprintPlan, error) {
	bp, ok := s.cats.Blueprint(blueprintID)
	if !ok {
		return BlueprintPlan{}, fmt.Errorf("%w: %s", ErrUnknownBlueprint, blueprintID)
	}
	placements := make([]blueprint.Placement, 0, len(bp.Blocks))
	for _, b := range bp.Blocks {
		placements = append(placements, blueprint.Placement{Pos: b.Pos, Block: b.Block})
	}
	expanded, err := blueprint.Expand(placements, anchor, rotation)
	if err != nil {
		return BlueprintPlan{}, fmt.Errorf("blueprint %s: %w", blueprintID, err)
	}
	intents := make(map[grid.Coord]cell.State, len(expanded))
	for p, block := range expanded {
		st, err := cell.Parse(block)
		if err != nil {
			return BlueprintPlan{}, fmt.Errorf("%w: blueprint %s: %v", ErrBadState, blueprintID, err)
		}
		intents[p] = st
	}
	if name == "" {
		name = "blueprint:" + blueprintID
	}
	applied, err := s.DeclareIntentBatch(name, intents)
	if err != nil {
		return BlueprintPlan{}, err
	}

	unplaced := blueprint.Unplaced(expanded, func(p grid.Coord) string {
		return s.world.ReadCell(p).String()
	})
	plan := BlueprintPlan{
		Blueprint: blueprintID,
		Anchor:    anchor.Array(),
		Rotation:  blueprint.NormalizeRotation(rotation),
		Cells:     len(expanded),
		Applied:   applied,
		Unplaced:  make([][3]int, 0, len(unplaced)),
		Needs:     blueprint.MaterialNeeds(expanded, unplaced, s.cats.MaterialFor),
	}
	for _, p := range unplaced {
		plan.Unplaced = append(plan.Unplaced, p.Array())
	}
	return plan, nil
}

// Undo reverts the most recent declaration; the name is empty when there was
// nothing to undo.
func (s *Scheduler) Undo() (string, bool) {
	name, ok := s.ledger.Undo()
	if ok {
		s.log.Debug("undo", zap.String("action", name))
	}
	return name, ok
}

func (s *Scheduler) Redo() (string, bool) {
	name, ok := s.ledger.Redo()
	if ok {
		s.log.Debug("redo", zap.String("action", name))
	}
	return name, ok
}

// SpawnDrone adds a drone directly. It must only be called from the loop
// goroutine or while Run is not active; use RequestSpawn otherwise.
func (s *Scheduler) SpawnDrone(start grid.Coord, home *grid.Coord) (string, error) {
	if !s.world.InBounds(start) {
		return "", fmt.Errorf("%w: %s", ErrOutOfBounds, start)
	}
	if home != nil {
		if _, ok := s.world.Inventory(*home); !ok {
			return "", fmt.Errorf("%w: %s", ErrBadHome, *home)
		}
	}
	s.nextDrone++
	id := fmt.Sprintf("D%d", s.nextDrone)
	d := drone.New(id, start, home, s.Tuning().Drone, s.log, s.tick.Load())
	s.drones[id] = d
	s.log.Info("drone spawned", zap.String("drone", id), zap.String("pos", start.String()))
	return id, nil
}

type spawnReq struct {
	start grid.Coord
	home  *grid.Coord
	resp  chan spawnResp
}

type spawnResp struct {
	id  string
	err error
}

// RequestSpawn queues a spawn for the next tick of a running loop.
func (s *Scheduler) RequestSpawn(ctx context.Context, start grid.Coord, home *grid.Coord) (string, error) {
	req := spawnReq{start: start, home: home, resp: make(chan spawnResp, 1)}
	select {
	case s.spawn <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.stop:
		return "", ErrStopped
	}
	select {
	case r := <-req.resp:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.stop:
		return "", ErrStopped
	}
}

// QueryJobSnapshot returns a copy of the coordinate to job class map.
func (s *Scheduler) QueryJobSnapshot() map[grid.Coord]jobs.Kind {
	snap := s.jobs.Snapshot()
	out := make(map[grid.Coord]jobs.Kind, len(snap))
	for p, e := range snap {
		out[p] = e.Kind
	}
	return out
}

type JobView struct {
	Pos      [3]int `json:"pos"`
	Kind     string `json:"kind"`
	Target   string `json:"target,omitempty"`
	Assignee string `json:"assignee,omitempty"`
}

// JobViews lists the registry in coordinate order.
func (s *Scheduler) JobViews() []JobView {
	snap := s.jobs.Snapshot()
	coords := make([]grid.Coord, 0, len(snap))
	for p := range snap {
		coords = append(coords, p)
	}
	grid.SortCoords(coords)
	out := make([]JobView, 0, len(coords))
	for _, p := range coords {
		e := snap[p]
		v := JobView{Pos: p.Array(), Kind: e.Kind.String(), Assignee: e.Assignee}
		if !e.Target.IsEmpty() {
			v.Target = e.Target.String()
		}
		out = append(out, v)
	}
	return out
}

// SetTuning queues a tuning change for the next tick. Only the latest pending
// value is kept.
func (s *Scheduler) SetTuning(t tuning.Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	for {
		select {
		case s.tuningCh <- t:
			return nil
		default:
		}
		select {
		case <-s.tuningCh:
		default:
		}
	}
}
