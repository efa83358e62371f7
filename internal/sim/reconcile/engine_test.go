package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/ledger"
	"dronecraft.ai/internal/sim/world"
)

var stone = cell.Of("STONE")

type fixture struct {
	w   *world.World
	l   *ledger.Ledger
	r   *jobs.Registry
	eng *Engine
}

func newFixture() *fixture {
	f := &fixture{
		w: world.New(world.Config{BoundaryR: 64}, catalogs.Default()),
		l: ledger.New(16),
		r: jobs.NewRegistry(jobs.DefaultConfig()),
	}
	f.w.OnChange(func(p grid.Coord, actor string) {
		if actor != Actor {
			f.l.MarkDirty(p)
		}
	})
	f.eng = New(f.w, f.l, f.r)
	return f
}

func (f *fixture) declare(p grid.Coord, s cell.State) {
	f.l.PushAction("test", map[grid.Coord]cell.Snapshot{p: cell.Snap(s)}, map[grid.Coord]cell.Snapshot{p: cell.Snap(f.w.ReadCell(p))})
}

func TestConstructionOnEmptyWorld(t *testing.T) {
	f := newFixture()
	p := grid.C(0, 0, 0)
	f.declare(p, stone)

	res := f.eng.Reconcile()
	if res.Issued != 1 || res.MarkersPlaced != 1 {
		t.Fatalf("res=%+v", res)
	}
	if got := f.w.ReadCell(p); got != cell.Marker(stone) {
		t.Fatalf("cell=%v", got)
	}
	job, ok := f.r.Lookup(p)
	if !ok || job.Kind != jobs.Construction || job.Target != stone {
		t.Fatalf("job=%+v ok=%v", job, ok)
	}

	// The builder finishes.
	claimed, _ := f.r.RequestJob(p, "d1", true)
	f.w.WriteCellBy("d1", "build", p, claimed.Target)
	f.r.Complete(p, "d1")

	res = f.eng.Reconcile()
	if res.Clean != 1 || f.l.DirtyCount() != 0 || f.r.Len() != 0 {
		t.Fatalf("res=%+v dirty=%d jobs=%d", res, f.l.DirtyCount(), f.r.Len())
	}
}

func TestReconcileIdempotent(t *testing.T) {
	f := newFixture()
	f.w.WriteCell(grid.C(1, 0, 0), cell.Of("WOOD"))
	f.w.WriteCell(grid.C(3, 0, 0), cell.Of("DIRT"))
	f.declare(grid.C(0, 0, 0), stone)
	f.declare(grid.C(1, 0, 0), stone)
	f.declare(grid.C(2, 0, 0), cell.Empty)
	f.declare(grid.C(3, 0, 0), cell.Empty)

	if first := f.eng.Reconcile(); !first.Changed() {
		t.Fatalf("first pass changed nothing: %+v", first)
	}
	jobsBefore := f.r.Snapshot()
	digest := f.w.Digest()

	second := f.eng.Reconcile()
	if second.Changed() {
		t.Fatalf("second pass changed state: %+v", second)
	}
	if diff := cmp.Diff(jobsBefore, f.r.Snapshot()); diff != "" {
		t.Fatalf("jobs changed (-before +after):\n%s", diff)
	}
	if f.w.Digest() != digest {
		t.Fatalf("world changed on second pass")
	}
}

func TestObstructionBecomesDeconstructThenMarker(t *testing.T) {
	f := newFixture()
	p := grid.C(1, 0, 0)
	f.w.WriteCell(p, cell.Of("WOOD"))
	f.declare(p, stone)

	f.eng.Reconcile()
	job, ok := f.r.Lookup(p)
	if !ok || job.Kind != jobs.DirectDeconstruct || job.Target != cell.Marker(stone) {
		t.Fatalf("job=%+v ok=%v", job, ok)
	}
	if got := f.w.ReadCell(p); got != cell.Of("WOOD") {
		t.Fatalf("engine touched real content: %v", got)
	}

	// A drone clears the obstruction.
	f.r.RequestJob(p, "d1", false)
	f.w.WriteCellBy("d1", "clear", p, cell.Empty)
	f.r.Complete(p, "d1")

	f.eng.Reconcile()
	if got := f.w.ReadCell(p); got != cell.Marker(stone) {
		t.Fatalf("cell=%v", got)
	}
	if job, _ := f.r.Lookup(p); job.Kind != jobs.Construction {
		t.Fatalf("job=%+v", job)
	}
}

func TestUndoRetractsPendingConstruction(t *testing.T) {
	f := newFixture()
	p := grid.C(2, 0, 0)
	f.declare(p, stone)
	f.eng.Reconcile()
	if f.r.Len() != 1 {
		t.Fatalf("jobs=%d", f.r.Len())
	}

	f.l.Undo()
	res := f.eng.Reconcile()
	if res.Retracted != 1 || res.MarkersClear != 1 {
		t.Fatalf("res=%+v", res)
	}
	if !f.w.ReadCell(p).IsEmpty() || f.r.Len() != 0 || f.l.DirtyCount() != 0 {
		t.Fatalf("cell=%v jobs=%d dirty=%d", f.w.ReadCell(p), f.r.Len(), f.l.DirtyCount())
	}
}

func TestEmptyIntentOverRealContentDeconstructs(t *testing.T) {
	f := newFixture()
	p := grid.C(0, 1, 0)
	f.w.WriteCell(p, cell.Of("DIRT"))
	f.declare(p, cell.Empty)
	f.eng.Reconcile()
	job, ok := f.r.Lookup(p)
	if !ok || job.Kind != jobs.DirectDeconstruct || !job.Target.IsEmpty() {
		t.Fatalf("job=%+v ok=%v", job, ok)
	}
}

func TestReplaceableIsMarkedOver(t *testing.T) {
	f := newFixture()
	p := grid.C(0, 0, 5)
	f.w.WriteCell(p, cell.Of("TALL_GRASS"))
	f.declare(p, stone)
	f.eng.Reconcile()
	if got := f.w.ReadCell(p); got != cell.Marker(stone) {
		t.Fatalf("cell=%v", got)
	}
}

func TestHibernatingJobStaysAsleep(t *testing.T) {
	f := newFixture()
	p := grid.C(0, 0, 0)
	f.declare(p, stone)
	f.eng.Reconcile()
	f.r.RegisterIntent(p, stone, jobs.PhaseMissingItems)

	res := f.eng.Reconcile()
	if res.Issued != 0 || f.r.ClassOf(p) != jobs.Hibernating {
		t.Fatalf("res=%+v class=%v", res, f.r.ClassOf(p))
	}
}

func TestSleepingDeconstructNotReissued(t *testing.T) {
	f := newFixture()
	p := grid.C(0, 2, 0)
	f.w.WriteCell(p, cell.Of("BEDROCK"))
	f.declare(p, cell.Empty)
	f.eng.Reconcile()
	if _, ok := f.r.RequestJob(p, "d1", true); !ok {
		t.Fatalf("no deconstruct issued")
	}
	if !f.r.Hibernate(p, "d1") {
		t.Fatalf("hibernate failed")
	}

	f.l.MarkDirty(p)
	res := f.eng.Reconcile()
	if res.Issued != 0 || f.r.ClassOf(p) != jobs.Hibernating {
		t.Fatalf("res=%+v class=%v", res, f.r.ClassOf(p))
	}
}

func TestUndoneIntentOverEmptyIsClean(t *testing.T) {
	f := newFixture()
	f.declare(grid.C(0, 0, 0), stone)
	f.l.Undo()
	res := f.eng.Reconcile()
	if res.Clean != 1 {
		t.Fatalf("res=%+v", res)
	}
}

func TestSweepOrphanMarkers(t *testing.T) {
	f := newFixture()
	orphan := grid.C(4, 0, 4)
	f.w.WriteCell(orphan, cell.Marker(stone))

	tracked := grid.C(5, 0, 5)
	f.declare(tracked, cell.Of("PLANK"))
	f.eng.Reconcile()
	for _, d := range f.l.Dirty() {
		f.l.MarkClean(d.Pos, d.Gen)
	}
	// Someone swaps the marker target behind the ledger's back.
	f.w.WriteCellBy(Actor, "test", tracked, cell.Marker(stone))

	if n := f.eng.SweepOrphanMarkers(); n != 1 {
		t.Fatalf("issued=%d", n)
	}
	if job, _ := f.r.Lookup(orphan); job.Kind != jobs.MarkerRemoval {
		t.Fatalf("orphan job=%+v", job)
	}
	if d := f.l.Dirty(); len(d) != 1 || d[0].Pos != tracked {
		t.Fatalf("dirty=%v", d)
	}
	if n := f.eng.SweepOrphanMarkers(); n != 0 {
		t.Fatalf("second sweep issued %d", n)
	}
}
