package ledger

import (
	"fmt"

	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
)

type SnapshotRecord struct {
	State string `json:"state"`
	Data  []byte `json:"data,omitempty"`
}

type StackRecord struct {
	Pos       [3]int           `json:"pos"`
	Snapshots []SnapshotRecord `json:"snapshots"`
}

type ChangeRecord struct {
	Pos      [3]int         `json:"pos"`
	Snapshot SnapshotRecord `json:"snapshot"`
	Applied  bool           `json:"applied,omitempty"`
}

type ActionRecord struct {
	Name    string         `json:"name"`
	Changes []ChangeRecord `json:"changes"`
}

// State is the persisted form of a ledger.
type State struct {
	UndoLimit int            `json:"undo_limit"`
	Stacks    []StackRecord  `json:"stacks"`
	Undo      []ActionRecord `json:"undo"`
	Redo      []ActionRecord `json:"redo"`
	Dirty     [][3]int       `json:"dirty"`
}

func snapRecord(s cell.Snapshot) SnapshotRecord {
	return SnapshotRecord{State: s.State.String(), Data: append([]byte(nil), s.Data...)}
}

func (r SnapshotRecord) snapshot() (cell.Snapshot, error) {
	st, err := cell.Parse(r.State)
	if err != nil {
		return cell.Snapshot{}, err
	}
	out := cell.Snapshot{State: st}
	if len(r.Data) > 0 {
		out.Data = append([]byte(nil), r.Data...)
	}
	return out, nil
}

func actionRecord(a *Action) ActionRecord {
	coords := make([]grid.Coord, 0, len(a.Changes))
	for p := range a.Changes {
		coords = append(coords, p)
	}
	grid.SortCoords(coords)
	rec := ActionRecord{Name: a.Name, Changes: make([]ChangeRecord, 0, len(coords))}
	for _, p := range coords {
		_, applied := a.applied[p]
		rec.Changes = append(rec.Changes, ChangeRecord{Pos: p.Array(), Snapshot: snapRecord(a.Changes[p]), Applied: applied})
	}
	return rec
}

func (r ActionRecord) action() (*Action, error) {
	a := &Action{Name: r.Name, Changes: map[grid.Coord]cell.Snapshot{}, applied: map[grid.Coord]struct{}{}}
	for _, ch := range r.Changes {
		snap, err := ch.Snapshot.snapshot()
		if err != nil {
			return nil, fmt.Errorf("action %q at %v: %w", r.Name, ch.Pos, err)
		}
		p := grid.FromArray(ch.Pos)
		a.Changes[p] = snap
		if ch.Applied {
			a.applied[p] = struct{}{}
		}
	}
	return a, nil
}

// Export captures the full ledger in coordinate order.
func (l *Ledger) Export() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := State{UndoLimit: l.limit}
	coords := make([]grid.Coord, 0, len(l.stacks))
	for p := range l.stacks {
		coords = append(coords, p)
	}
	grid.SortCoords(coords)
	for _, p := range coords {
		rec := StackRecord{Pos: p.Array()}
		for _, s := range l.stacks[p] {
			rec.Snapshots = append(rec.Snapshots, snapRecord(s))
		}
		out.Stacks = append(out.Stacks, rec)
	}
	for _, a := range l.undo {
		out.Undo = append(out.Undo, actionRecord(a))
	}
	for _, a := range l.redo {
		out.Redo = append(out.Redo, actionRecord(a))
	}
	dirty := make([]grid.Coord, 0, len(l.dirty))
	for p := range l.dirty {
		dirty = append(dirty, p)
	}
	grid.SortCoords(dirty)
	for _, p := range dirty {
		out.Dirty = append(out.Dirty, p.Array())
	}
	return out
}

// Import replaces the ledger. Validation happens before any state changes.
func (l *Ledger) Import(st State) error {
	stacks := make(map[grid.Coord][]cell.Snapshot, len(st.Stacks))
	for _, rec := range st.Stacks {
		if len(rec.Snapshots) == 0 {
			return fmt.Errorf("ledger: empty stack at %v", rec.Pos)
		}
		stack := make([]cell.Snapshot, 0, len(rec.Snapshots))
		for _, s := range rec.Snapshots {
			snap, err := s.snapshot()
			if err != nil {
				return fmt.Errorf("ledger: stack %v: %w", rec.Pos, err)
			}
			stack = append(stack, snap)
		}
		stacks[grid.FromArray(rec.Pos)] = stack
	}
	load := func(recs []ActionRecord) ([]*Action, error) {
		out := make([]*Action, 0, len(recs))
		for _, r := range recs {
			a, err := r.action()
			if err != nil {
				return nil, fmt.Errorf("ledger: %w", err)
			}
			out = append(out, a)
		}
		return out, nil
	}
	undo, err := load(st.Undo)
	if err != nil {
		return err
	}
	redo, err := load(st.Redo)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if st.UndoLimit > 0 {
		l.limit = st.UndoLimit
	}
	l.stacks = stacks
	l.undo = undo
	l.redo = redo
	l.trimLocked()
	l.dirty = map[grid.Coord]uint64{}
	for _, p := range st.Dirty {
		l.markDirtyLocked(grid.FromArray(p))
	}
	return nil
}
