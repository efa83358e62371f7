// Package ledger keeps declared intent: a version stack per coordinate, the
// global undo/redo action deques and the dirty set reconciliation consumes.
package ledger

import (
	"sync"

	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
)

const DefaultUndoLimit = 64

// Action is one named, undoable batch. applied holds the coordinates whose
// stacks actually grew when the batch was pushed, so undo and redo touch
// exactly those.
type Action struct {
	Name    string
	Changes map[grid.Coord]cell.Snapshot

	applied map[grid.Coord]struct{}
}

// Applied lists the coordinates whose stacks this action grew.
func (a *Action) Applied() []grid.Coord {
	out := make([]grid.Coord, 0, len(a.applied))
	for p := range a.applied {
		out = append(out, p)
	}
	grid.SortCoords(out)
	return out
}

// DirtyEntry pairs a dirty coordinate with the generation it was marked at.
type DirtyEntry struct {
	Pos grid.Coord
	Gen uint64
}

type Ledger struct {
	mu sync.Mutex

	limit  int
	stacks map[grid.Coord][]cell.Snapshot
	undo   []*Action
	redo   []*Action
	dirty  map[grid.Coord]uint64
	gen    uint64
}

func New(undoLimit int) *Ledger {
	if undoLimit <= 0 {
		undoLimit = DefaultUndoLimit
	}
	return &Ledger{
		limit:  undoLimit,
		stacks: map[grid.Coord][]cell.Snapshot{},
		dirty:  map[grid.Coord]uint64{},
	}
}

// SetUndoLimit changes the deque bound, dropping the oldest actions if needed.
func (l *Ledger) SetUndoLimit(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = n
	l.trimLocked()
}

func (l *Ledger) trimLocked() {
	if over := len(l.undo) - l.limit; over > 0 {
		for i := 0; i < over; i++ {
			l.undo[i] = nil
		}
		l.undo = append([]*Action(nil), l.undo[over:]...)
	}
}

func (l *Ledger) markDirtyLocked(pos grid.Coord) {
	l.gen++
	l.dirty[pos] = l.gen
}

// PushAction records a batch. First-touched coordinates are seeded with their
// base snapshot (Empty if base has none); a change equal to the current top
// is not appended. The redo deque is cleared.
func (l *Ledger) PushAction(name string, changes, base map[grid.Coord]cell.Snapshot) *Action {
	l.mu.Lock()
	defer l.mu.Unlock()

	act := &Action{Name: name, Changes: make(map[grid.Coord]cell.Snapshot, len(changes)), applied: map[grid.Coord]struct{}{}}
	coords := make([]grid.Coord, 0, len(changes))
	for p := range changes {
		coords = append(coords, p)
	}
	grid.SortCoords(coords)
	for _, p := range coords {
		snap := changes[p].Clone()
		snap.State = snap.State.Normalize()
		act.Changes[p] = snap

		stack, ok := l.stacks[p]
		if !ok {
			seed := cell.Snap(cell.Empty)
			if b, ok := base[p]; ok {
				seed = b.Clone()
				seed.State = seed.State.Normalize()
			}
			stack = []cell.Snapshot{seed}
		}
		if !stack[len(stack)-1].Equal(snap) {
			stack = append(stack, snap)
			act.applied[p] = struct{}{}
		}
		l.stacks[p] = stack
		l.markDirtyLocked(p)
	}
	l.undo = append(l.undo, act)
	l.trimLocked()
	l.redo = nil
	return act
}

// Undo reverts the most recent action. It reports false when there is
// nothing to undo.
func (l *Ledger) Undo() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.undo) == 0 {
		return "", false
	}
	act := l.undo[len(l.undo)-1]
	l.undo = l.undo[:len(l.undo)-1]
	for _, p := range act.Applied() {
		stack := l.stacks[p]
		if len(stack) > 1 {
			l.stacks[p] = stack[:len(stack)-1]
			l.markDirtyLocked(p)
		}
	}
	l.redo = append(l.redo, act)
	return act.Name, true
}

// Redo re-applies the most recently undone action.
func (l *Ledger) Redo() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.redo) == 0 {
		return "", false
	}
	act := l.redo[len(l.redo)-1]
	l.redo = l.redo[:len(l.redo)-1]
	for _, p := range act.Applied() {
		l.stacks[p] = append(l.stacks[p], act.Changes[p].Clone())
		l.markDirtyLocked(p)
	}
	l.undo = append(l.undo, act)
	l.trimLocked()
	return act.Name, true
}

func (l *Ledger) CanUndo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.undo) > 0
}

func (l *Ledger) CanRedo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.redo) > 0
}

// Top returns the declared intent at pos.
func (l *Ledger) Top(pos grid.Coord) (cell.Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stack, ok := l.stacks[pos]
	if !ok {
		return cell.Snapshot{}, false
	}
	return stack[len(stack)-1].Clone(), true
}

// Natural returns the pre-intervention snapshot at pos.
func (l *Ledger) Natural(pos grid.Coord) (cell.Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stack, ok := l.stacks[pos]
	if !ok {
		return cell.Snapshot{}, false
	}
	return stack[0].Clone(), true
}

func (l *Ledger) Height(pos grid.Coord) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stacks[pos])
}

func (l *Ledger) Tracked(pos grid.Coord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.stacks[pos]
	return ok
}

// MarkDirty flags a tracked coordinate for re-reconciliation, typically after
// the world changed underneath it. Untracked coordinates are ignored.
func (l *Ledger) MarkDirty(pos grid.Coord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.stacks[pos]; !ok {
		return false
	}
	l.markDirtyLocked(pos)
	return true
}

// Dirty returns a sorted copy of the dirty set.
func (l *Ledger) Dirty() []DirtyEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	coords := make([]grid.Coord, 0, len(l.dirty))
	for p := range l.dirty {
		coords = append(coords, p)
	}
	grid.SortCoords(coords)
	out := make([]DirtyEntry, len(coords))
	for i, p := range coords {
		out[i] = DirtyEntry{Pos: p, Gen: l.dirty[p]}
	}
	return out
}

func (l *Ledger) DirtyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.dirty)
}

// MarkClean removes pos from the dirty set unless it was re-marked after gen.
func (l *Ledger) MarkClean(pos grid.Coord, gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.dirty[pos]; ok && cur == gen {
		delete(l.dirty, pos)
		return true
	}
	return false
}

// Intents returns the current top of every tracked coordinate.
func (l *Ledger) Intents() map[grid.Coord]cell.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[grid.Coord]cell.State, len(l.stacks))
	for p, stack := range l.stacks {
		out[p] = stack[len(stack)-1].State
	}
	return out
}
