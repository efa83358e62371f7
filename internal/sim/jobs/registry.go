// Package jobs holds the spatial job registry: per-class bucketed job sets,
// the assignment table and the ring search drones use to claim work.
package jobs

import (
	"sort"
	"sync"

	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
)

type Config struct {
	BucketSize     int
	MaxRing        int
	WakeEveryTicks uint64
}

func DefaultConfig() Config {
	return Config{BucketSize: 16, MaxRing: 6, WakeEveryTicks: 100}
}

type record struct {
	kind   Kind
	target cell.State
	since  uint64
	wakeAs Kind // class a Hibernating job returns to; KindNone means Construction
}

// Registry is safe for concurrent use. Every operation takes the single
// registry lock, so claim is atomic with respect to every register call.
type Registry struct {
	mu sync.Mutex

	cfg     Config
	now     uint64
	classes map[Kind]map[grid.Bucket]map[grid.Coord]struct{}
	jobs    map[grid.Coord]record
	assign  map[grid.Coord]string
	dirty   bool
}

func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		jobs:   map[grid.Coord]record{},
		assign: map[grid.Coord]string{},
		classes: map[Kind]map[grid.Bucket]map[grid.Coord]struct{}{
			Construction:      {},
			MarkerRemoval:     {},
			DirectDeconstruct: {},
			Hibernating:       {},
		},
	}
	r.cfg = normalize(cfg)
	return r
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = def.BucketSize
	}
	if cfg.MaxRing < 0 {
		cfg.MaxRing = 0
	}
	if cfg.WakeEveryTicks == 0 {
		cfg.WakeEveryTicks = def.WakeEveryTicks
	}
	return cfg
}

// SetConfig applies runtime-adjustable settings. The bucket size is fixed at
// construction because existing jobs are indexed by it.
func (r *Registry) SetConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bs := r.cfg.BucketSize
	r.cfg = normalize(cfg)
	r.cfg.BucketSize = bs
}

// SetNow stamps hibernation times.
func (r *Registry) SetNow(now uint64) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *Registry) insertLocked(pos grid.Coord, rec record) {
	r.clearLocked(pos)
	b := grid.BucketOf(pos, r.cfg.BucketSize)
	set := r.classes[rec.kind][b]
	if set == nil {
		set = map[grid.Coord]struct{}{}
		r.classes[rec.kind][b] = set
	}
	set[pos] = struct{}{}
	r.jobs[pos] = rec
	r.dirty = true
}

// clearLocked drops pos from every class without touching the assignment.
func (r *Registry) clearLocked(pos grid.Coord) bool {
	rec, ok := r.jobs[pos]
	if !ok {
		return false
	}
	b := grid.BucketOf(pos, r.cfg.BucketSize)
	if set := r.classes[rec.kind][b]; set != nil {
		delete(set, pos)
		if len(set) == 0 {
			delete(r.classes[rec.kind], b)
		}
	}
	delete(r.jobs, pos)
	r.dirty = true
	return true
}

func (r *Registry) releaseLocked(pos grid.Coord) {
	if _, ok := r.assign[pos]; ok {
		delete(r.assign, pos)
		r.dirty = true
	}
}

// RegisterIntent classifies pos according to phase. Only PhaseClear releases
// the assignment. Re-registering the same class and target is a no-op, and a
// sleeping job is not woken by another PhaseBuild for the same target.
func (r *Registry) RegisterIntent(pos grid.Coord, target cell.State, phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := phase.kind()
	if kind == KindNone {
		r.clearLocked(pos)
		r.releaseLocked(pos)
		return
	}
	target = target.Normalize()
	if cur, ok := r.jobs[pos]; ok && cur.target == target {
		if cur.kind == kind || (cur.kind == Hibernating && phase == PhaseBuild) {
			return
		}
	}
	r.insertLocked(pos, record{kind: kind, target: target, since: r.now})
	if kind == Hibernating {
		r.releaseLocked(pos)
	}
}

// RegisterDirectDeconstruct schedules the removal of whatever occupies pos,
// leaving after (Empty or a marker) behind.
func (r *Registry) RegisterDirectDeconstruct(pos grid.Coord, after cell.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	after = after.Normalize()
	if cur, ok := r.jobs[pos]; ok && cur.target == after {
		if cur.kind == DirectDeconstruct || (cur.kind == Hibernating && cur.wakeAs == DirectDeconstruct) {
			return
		}
	}
	r.insertLocked(pos, record{kind: DirectDeconstruct, target: after, since: r.now})
}

// Hibernate puts the job id holds at pos to sleep and releases the claim.
// It wakes back into its current class.
func (r *Registry) Hibernate(pos grid.Coord, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[pos]
	if !ok || r.assign[pos] != id || rec.kind == Hibernating {
		return false
	}
	r.insertLocked(pos, record{kind: Hibernating, target: rec.target, since: r.now, wakeAs: rec.kind})
	r.releaseLocked(pos)
	return true
}

// Remove drops every job and claim for pos.
func (r *Registry) Remove(pos grid.Coord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked(pos)
	r.releaseLocked(pos)
}

// Complete removes the job at pos when id still holds it.
func (r *Registry) Complete(pos grid.Coord, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assign[pos] != id {
		return false
	}
	r.clearLocked(pos)
	r.releaseLocked(pos)
	return true
}

// Release drops the claim on pos if id holds it; otherwise no-op.
func (r *Registry) Release(pos grid.Coord, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assign[pos] == id {
		r.releaseLocked(pos)
	}
}

func (r *Registry) IsAssignedTo(pos grid.Coord, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	holder, ok := r.assign[pos]
	return ok && holder == id
}

func (r *Registry) AssigneeOf(pos grid.Coord) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.assign[pos]
	return id, ok
}

func (r *Registry) ClassOf(pos grid.Coord) Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[pos].kind
}

// Lookup returns the job currently registered at pos.
func (r *Registry) Lookup(pos grid.Coord) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[pos]
	if !ok {
		return Job{}, false
	}
	return Job{Pos: pos, Kind: rec.kind, Target: rec.target}, true
}

var searchOrder = [...]Kind{DirectDeconstruct, MarkerRemoval, Construction}

// RequestJob claims the best unassigned job near from. Rings of buckets are
// searched outward to MaxRing; within a ring the class priority is
// DirectDeconstruct, MarkerRemoval, then Construction (only when canBuild).
// Within a class the nearest coordinate wins, ties broken by coordinate order.
func (r *Registry) RequestJob(from grid.Coord, id string, canBuild bool) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	center := grid.BucketOf(from, r.cfg.BucketSize)
	for ring := 0; ring <= r.cfg.MaxRing; ring++ {
		buckets := grid.Ring(center, ring)
		for _, kind := range searchOrder {
			if kind == Construction && !canBuild {
				continue
			}
			pos, ok := r.nearestLocked(kind, buckets, from)
			if !ok {
				continue
			}
			r.assign[pos] = id
			r.dirty = true
			return Job{Pos: pos, Kind: kind, Target: r.jobs[pos].target}, true
		}
	}
	return Job{}, false
}

func (r *Registry) nearestLocked(kind Kind, buckets []grid.Bucket, from grid.Coord) (grid.Coord, bool) {
	var best grid.Coord
	bestD := -1
	for _, b := range buckets {
		for pos := range r.classes[kind][b] {
			if _, taken := r.assign[pos]; taken {
				continue
			}
			d := grid.DistSq(from, pos)
			if bestD < 0 || d < bestD || (d == bestD && grid.Less(pos, best)) {
				best, bestD = pos, d
			}
		}
	}
	return best, bestD >= 0
}

// WakeHibernating moves jobs that slept at least WakeEveryTicks back to
// their class (Construction unless put to sleep by Hibernate) and returns
// how many woke.
func (r *Registry) WakeHibernating(now uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var wake []grid.Coord
	for _, set := range r.classes[Hibernating] {
		for pos := range set {
			if since := r.jobs[pos].since; now >= since && now-since >= r.cfg.WakeEveryTicks {
				wake = append(wake, pos)
			}
		}
	}
	for _, pos := range wake {
		rec := r.jobs[pos]
		kind := rec.wakeAs
		if kind == KindNone {
			kind = Construction
		}
		r.insertLocked(pos, record{kind: kind, target: rec.target, since: now})
	}
	return len(wake)
}

// Snapshot is a read-only copy of every job.
func (r *Registry) Snapshot() map[grid.Coord]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[grid.Coord]Entry, len(r.jobs))
	for pos, rec := range r.jobs {
		out[pos] = Entry{Kind: rec.kind, Target: rec.target, Assignee: r.assign[pos]}
	}
	return out
}

// Counts returns the number of jobs per class and the number of claims.
func (r *Registry) Counts() (map[Kind]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Kind]int{}
	for _, rec := range r.jobs {
		out[rec.kind]++
	}
	return out, len(r.assign)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// TakeDirty reports whether anything changed since the last call.
func (r *Registry) TakeDirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.dirty
	r.dirty = false
	return d
}

// Record is the persisted form of one job.
type Record struct {
	Pos      [3]int `json:"pos"`
	Kind     string `json:"kind"`
	Target   string `json:"target"`
	Since    uint64 `json:"since"`
	Assignee string `json:"assignee,omitempty"`
	WakeAs   string `json:"wake_as,omitempty"`
}

// Export lists jobs in coordinate order.
func (r *Registry) Export() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	coords := make([]grid.Coord, 0, len(r.jobs))
	for pos := range r.jobs {
		coords = append(coords, pos)
	}
	grid.SortCoords(coords)
	out := make([]Record, 0, len(coords))
	for _, pos := range coords {
		rec := r.jobs[pos]
		out = append(out, Record{
			Pos:      pos.Array(),
			Kind:     rec.kind.String(),
			Target:   rec.target.String(),
			Since:    rec.since,
			Assignee: r.assign[pos],
		})
		if rec.wakeAs != KindNone {
			out[len(out)-1].WakeAs = rec.wakeAs.String()
		}
	}
	return out
}

// Import replaces the registry contents. Records are validated up front so a
// bad snapshot leaves the registry untouched.
func (r *Registry) Import(recs []Record) error {
	type parsed struct {
		pos      grid.Coord
		rec      record
		assignee string
	}
	all := make([]parsed, 0, len(recs))
	for _, in := range recs {
		kind, ok := ParseKind(in.Kind)
		if !ok {
			return &ImportError{Pos: in.Pos, Msg: "unknown kind " + in.Kind}
		}
		target, err := cell.Parse(in.Target)
		if err != nil {
			return &ImportError{Pos: in.Pos, Msg: err.Error()}
		}
		rec := record{kind: kind, target: target, since: in.Since}
		if in.WakeAs != "" {
			if rec.wakeAs, ok = ParseKind(in.WakeAs); !ok {
				return &ImportError{Pos: in.Pos, Msg: "unknown wake kind " + in.WakeAs}
			}
		}
		all = append(all, parsed{pos: grid.FromArray(in.Pos), rec: rec, assignee: in.Assignee})
	}
	sort.SliceStable(all, func(i, j int) bool { return grid.Less(all[i].pos, all[j].pos) })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = map[grid.Coord]record{}
	r.assign = map[grid.Coord]string{}
	for k := range r.classes {
		r.classes[k] = map[grid.Bucket]map[grid.Coord]struct{}{}
	}
	for _, p := range all {
		r.insertLocked(p.pos, p.rec)
		if p.assignee != "" && p.rec.kind != Hibernating {
			r.assign[p.pos] = p.assignee
		}
	}
	return nil
}

type ImportError struct {
	Pos [3]int
	Msg string
}

func (e *ImportError) Error() string {
	return "jobs: import " + grid.FromArray(e.Pos).String() + ": " + e.Msg
}
