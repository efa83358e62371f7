package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"dronecraft.ai/internal/persistence/snapshot"
	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/tuning"
	"dronecraft.ai/internal/sim/world"
)

var stone = cell.Of("STONE")

func testTuning() tuning.Tuning {
	cfg := tuning.Defaults()
	cfg.WorldBoundaryR = 64
	cfg.TickRateHz = 200
	cfg.SnapshotEveryTicks = 0
	cfg.Drone.IdleRetireTicks = 0
	return cfg
}

func newTestScheduler(t *testing.T, cfg tuning.Tuning, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(Config{WorldID: "test", Tuning: cfg}, catalogs.Default(), zaptest.NewLogger(t), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// stockedHome places a chest holding n of item at pos.
func stockedHome(t *testing.T, s *Scheduler, pos grid.Coord, item string, n int) *grid.Coord {
	t.Helper()
	if !s.World().WriteCell(pos, cell.Of("CHEST")) {
		t.Fatalf("place chest at %v", pos)
	}
	if rem := s.World().Deposit(pos, item, n, false); rem != 0 {
		t.Fatalf("deposit remainder=%d", rem)
	}
	return &pos
}

func stepUntil(t *testing.T, s *Scheduler, max int, cond func() bool) {
	t.Helper()
	for i := 0; i < max; i++ {
		s.StepOnce()
		if cond() {
			return
		}
	}
	t.Fatalf("condition not reached after %d ticks (metrics=%+v)", max, s.Metrics())
}

func TestDeclareRejectsInvalidBatches(t *testing.T) {
	s := newTestScheduler(t, testTuning())
	cases := []struct {
		name    string
		intents map[grid.Coord]cell.State
		want    error
	}{
		{"empty", nil, ErrEmptyBatch},
		{"out of bounds", map[grid.Coord]cell.State{grid.C(1000, 0, 0): stone}, ErrOutOfBounds},
		{"unknown block", map[grid.Coord]cell.State{grid.C(0, 0, 0): cell.Of("UNOBTAINIUM")}, ErrBadState},
		{"marker", map[grid.Coord]cell.State{grid.C(0, 0, 0): cell.Marker(stone)}, ErrBadState},
	}
	for _, tc := range cases {
		if _, err := s.DeclareIntentBatch(tc.name, tc.intents); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}
	if s.Ledger().CanUndo() {
		t.Fatalf("rejected batches must not reach the ledger")
	}
}

func TestDeclareBuildsWithDrone(t *testing.T) {
	s := newTestScheduler(t, testTuning())
	home := stockedHome(t, s, grid.C(4, 0, 0), "STONE", 8)
	targets := []grid.Coord{grid.C(0, 0, 0), grid.C(1, 0, 0), grid.C(2, 0, 0)}
	intents := map[grid.Coord]cell.State{}
	for _, p := range targets {
		intents[p] = stone
	}
	if n, err := s.DeclareIntentBatch("wall", intents); err != nil || n != 3 {
		t.Fatalf("declare n=%d err=%v", n, err)
	}
	if _, err := s.SpawnDrone(grid.C(3, 0, 0), home); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	stepUntil(t, s, 200, func() bool {
		for _, p := range targets {
			if s.World().ReadCell(p) != stone {
				return false
			}
		}
		return true
	})
	// One more pass lets reconciliation observe the finished cells.
	s.StepOnce()
	if got := s.QueryJobSnapshot(); len(got) != 0 {
		t.Fatalf("jobs left: %v", got)
	}
	if s.Ledger().DirtyCount() != 0 {
		t.Fatalf("dirty=%d", s.Ledger().DirtyCount())
	}
	if items, _ := s.World().Inventory(*home); items["STONE"] != 5 {
		t.Fatalf("home=%v", items)
	}
}

func TestUndoRetractsPendingWork(t *testing.T) {
	s := newTestScheduler(t, testTuning())
	p := grid.C(0, 0, 0)
	if _, err := s.DeclareIntentBatch("one", map[grid.Coord]cell.State{p: stone}); err != nil {
		t.Fatal(err)
	}
	s.StepOnce()
	if got := s.QueryJobSnapshot(); got[p] != jobs.Construction {
		t.Fatalf("jobs=%v", got)
	}
	if s.World().ReadCell(p) != cell.Marker(stone) {
		t.Fatalf("cell=%v", s.World().ReadCell(p))
	}

	if name, ok := s.Undo(); !ok || name != "one" {
		t.Fatalf("undo=%q,%v", name, ok)
	}
	s.StepOnce()
	if got := s.QueryJobSnapshot(); len(got) != 0 {
		t.Fatalf("jobs after undo: %v", got)
	}
	if !s.World().ReadCell(p).IsEmpty() {
		t.Fatalf("marker left: %v", s.World().ReadCell(p))
	}

	if _, ok := s.Redo(); !ok {
		t.Fatalf("redo failed")
	}
	s.StepOnce()
	if got := s.QueryJobSnapshot(); got[p] != jobs.Construction {
		t.Fatalf("jobs after redo: %v", got)
	}
}

func TestExternalEditRedirties(t *testing.T) {
	s := newTestScheduler(t, testTuning())
	p := grid.C(0, 0, 0)
	s.World().WriteCell(p, stone)
	if _, err := s.DeclareIntentBatch("keep", map[grid.Coord]cell.State{p: stone}); err != nil {
		t.Fatal(err)
	}
	s.StepOnce()
	if s.Ledger().DirtyCount() != 0 {
		t.Fatalf("satisfied intent still dirty")
	}

	s.World().WriteCellBy("griefer", "break", p, cell.Empty)
	if s.Ledger().DirtyCount() != 1 {
		t.Fatalf("external edit did not re-dirty")
	}
	s.StepOnce()
	if got := s.QueryJobSnapshot(); got[p] != jobs.Construction {
		t.Fatalf("jobs=%v", got)
	}
}

func TestDeclareBlueprintPlansMaterials(t *testing.T) {
	s := newTestScheduler(t, testTuning())
	anchor := grid.C(0, 0, 0)
	s.World().WriteCell(grid.C(0, 1, 0), stone)

	plan, err := s.DeclareBlueprint("", "stone_pillar_3", anchor, 0)
	if err != nil {
		t.Fatalf("blueprint: %v", err)
	}
	if plan.Cells != 3 || plan.Applied != 2 {
		t.Fatalf("plan=%+v", plan)
	}
	want := map[string]int{"STONE": 2}
	if d := cmp.Diff(want, plan.Needs); d != "" {
		t.Fatalf("needs (-want +got):\n%s", d)
	}
	if len(plan.Unplaced) != 2 {
		t.Fatalf("unplaced=%v", plan.Unplaced)
	}

	if _, err := s.DeclareBlueprint("", "nope", anchor, 0); !errors.Is(err, ErrUnknownBlueprint) {
		t.Fatalf("err=%v", err)
	}
}

func TestSpawnValidation(t *testing.T) {
	s := newTestScheduler(t, testTuning())
	if _, err := s.SpawnDrone(grid.C(999, 0, 0), nil); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("err=%v", err)
	}
	home := grid.C(1, 0, 0)
	if _, err := s.SpawnDrone(grid.C(0, 0, 0), &home); !errors.Is(err, ErrBadHome) {
		t.Fatalf("err=%v", err)
	}
	id, err := s.SpawnDrone(grid.C(0, 0, 0), nil)
	if err != nil || id != "D1" {
		t.Fatalf("id=%q err=%v", id, err)
	}
}

func TestDigestDeterministic(t *testing.T) {
	run := func() []string {
		s := newTestScheduler(t, testTuning())
		home := stockedHome(t, s, grid.C(6, 0, 0), "STONE", 10)
		intents := map[grid.Coord]cell.State{}
		for x := 0; x < 4; x++ {
			intents[grid.C(x, 0, 2)] = stone
		}
		if _, err := s.DeclareIntentBatch("row", intents); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			if _, err := s.SpawnDrone(grid.C(5, 0, i), home); err != nil {
				t.Fatal(err)
			}
		}
		var out []string
		for i := 0; i < 40; i++ {
			_, d := s.StepOnce()
			out = append(out, d)
		}
		return out
	}
	if d := cmp.Diff(run(), run()); d != "" {
		t.Fatalf("digests diverged:\n%s", d)
	}
}

func TestParallelDronesMatchSequentialOutcome(t *testing.T) {
	build := func(parallel bool) *Scheduler {
		cfg := testTuning()
		cfg.ParallelDrones = parallel
		s := newTestScheduler(t, cfg)
		home := stockedHome(t, s, grid.C(0, 0, 8), "STONE", 64)
		intents := map[grid.Coord]cell.State{}
		for x := -3; x <= 3; x++ {
			intents[grid.C(x, 0, 0)] = stone
		}
		if _, err := s.DeclareIntentBatch("row", intents); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 4; i++ {
			if _, err := s.SpawnDrone(grid.C(i, 0, 6), home); err != nil {
				t.Fatal(err)
			}
		}
		stepUntil(t, s, 300, func() bool {
			for p := range intents {
				if s.World().ReadCell(p) != stone {
					return false
				}
			}
			return true
		})
		return s
	}
	seq, par := build(false), build(true)
	if seq.World().Digest() != par.World().Digest() {
		t.Fatalf("world digests differ")
	}
}

func TestExportImportResumesNextTick(t *testing.T) {
	s := newTestScheduler(t, testTuning())
	home := stockedHome(t, s, grid.C(4, 0, 0), "STONE", 8)
	if _, err := s.DeclareIntentBatch("pair", map[grid.Coord]cell.State{
		grid.C(0, 0, 0): stone,
		grid.C(0, 0, 1): stone,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SpawnDrone(grid.C(3, 0, 0), home); err != nil {
		t.Fatal(err)
	}
	var tick uint64
	for i := 0; i < 3; i++ {
		tick, _ = s.StepOnce()
	}
	snap := s.ExportSnapshot(tick)

	r := newTestScheduler(t, testTuning())
	if err := r.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if r.CurrentTick() != tick+1 {
		t.Fatalf("tick=%d want %d", r.CurrentTick(), tick+1)
	}
	if d := cmp.Diff(snap, r.ExportSnapshot(tick), cmpopts.EquateEmpty()); d != "" {
		t.Fatalf("re-export differs (-want +got):\n%s", d)
	}

	// Both copies continue identically.
	for i := 0; i < 20; i++ {
		_, a := s.StepOnce()
		_, b := r.StepOnce()
		if a != b {
			t.Fatalf("diverged at step %d", i)
		}
	}
}

func TestImportRejectsBadSnapshot(t *testing.T) {
	s := newTestScheduler(t, testTuning())
	bad := s.ExportSnapshot(0)
	bad.Header.Version = 99
	if err := s.ImportSnapshot(bad); !errors.Is(err, snapshot.ErrVersion) {
		t.Fatalf("err=%v", err)
	}
	mismatch := s.ExportSnapshot(0)
	mismatch.BucketSize = 8
	if err := s.ImportSnapshot(mismatch); err == nil {
		t.Fatalf("bucket mismatch accepted")
	}
}

type recordingLogger struct {
	ticks  []TickLogEntry
	audits []world.AuditEntry
}

func (r *recordingLogger) WriteTick(e TickLogEntry) error {
	r.ticks = append(r.ticks, e)
	return nil
}

func (r *recordingLogger) WriteAudit(e world.AuditEntry) error {
	r.audits = append(r.audits, e)
	return nil
}

type recordingPublisher struct {
	ticks []uint64
	last  []JobView
}

func (p *recordingPublisher) PublishJobs(tick uint64, jobs []JobView) {
	p.ticks = append(p.ticks, tick)
	p.last = jobs
}

func TestSinksReceiveTickOutput(t *testing.T) {
	cfg := testTuning()
	cfg.SnapshotEveryTicks = 2
	cfg.Jobs.SyncEveryTicks = 1
	rl := &recordingLogger{}
	pub := &recordingPublisher{}
	snaps := make(chan snapshot.SnapshotV1, 4)
	s := newTestScheduler(t, cfg,
		WithTickLogger(rl),
		WithAuditLogger(rl),
		WithJobPublisher(pub),
		WithSnapshotSink(snaps),
	)
	p := grid.C(0, 0, 0)
	if _, err := s.DeclareIntentBatch("one", map[grid.Coord]cell.State{p: stone}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		s.StepOnce()
	}

	if len(rl.ticks) != 3 || rl.ticks[0].Reconcile.MarkersPlaced != 1 || rl.ticks[0].Digest == "" {
		t.Fatalf("ticks=%+v", rl.ticks)
	}
	if len(rl.audits) == 0 || rl.audits[0].Actor != "reconcile" {
		t.Fatalf("audits=%+v", rl.audits)
	}
	// Published once: the registry only changed on the first tick.
	if d := cmp.Diff([]uint64{0}, pub.ticks); d != "" {
		t.Fatalf("publish ticks (-want +got):\n%s", d)
	}
	want := []JobView{{Pos: [3]int{0, 0, 0}, Kind: "CONSTRUCTION", Target: "STONE"}}
	if d := cmp.Diff(want, pub.last); d != "" {
		t.Fatalf("published jobs (-want +got):\n%s", d)
	}
	select {
	case snap := <-snaps:
		if snap.Header.Tick != 2 {
			t.Fatalf("snapshot tick=%d", snap.Header.Tick)
		}
	default:
		t.Fatalf("no snapshot delivered")
	}
}

func TestSetTuningAppliesAtTickBoundary(t *testing.T) {
	s := newTestScheduler(t, testTuning())
	next := testTuning()
	next.Ledger.UndoLimit = 2
	next.Drone.WatchdogTicks = 7
	next.WorldBoundaryR = 5
	if err := s.SetTuning(next); err != nil {
		t.Fatal(err)
	}
	if s.Tuning().Ledger.UndoLimit == 2 {
		t.Fatalf("applied before tick")
	}
	s.StepOnce()
	got := s.Tuning()
	if got.Ledger.UndoLimit != 2 || got.Drone.WatchdogTicks != 7 {
		t.Fatalf("tuning=%+v", got)
	}
	if got.WorldBoundaryR != 64 {
		t.Fatalf("boundary changed to %d", got.WorldBoundaryR)
	}

	bad := testTuning()
	bad.TickRateHz = 0
	if err := s.SetTuning(bad); err == nil {
		t.Fatalf("invalid tuning accepted")
	}
}

func TestRunServesSpawnRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestScheduler(t, testTuning())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	defer reqCancel()
	id, err := s.RequestSpawn(reqCtx, grid.C(0, 0, 0), nil)
	if err != nil || id != "D1" {
		t.Fatalf("spawn id=%q err=%v", id, err)
	}

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
	if _, err := s.RequestSpawn(context.Background(), grid.C(0, 0, 0), nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("spawn after stop err=%v", err)
	}
}

func TestSnapshotDigestMatchesTickLog(t *testing.T) {
	cfg := testTuning()
	cfg.SnapshotEveryTicks = 4
	rl := &recordingLogger{}
	snaps := make(chan snapshot.SnapshotV1, 4)
	s := newTestScheduler(t, cfg, WithTickLogger(rl), WithSnapshotSink(snaps))
	home := stockedHome(t, s, grid.C(4, 0, 0), "STONE", 4)
	if _, err := s.DeclareIntentBatch("pair", map[grid.Coord]cell.State{
		grid.C(0, 0, 0): stone,
		grid.C(0, 0, 2): stone,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SpawnDrone(grid.C(3, 0, 0), home); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		s.StepOnce()
	}
	snap := <-snaps

	r := newTestScheduler(t, testTuning())
	if err := r.ImportSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	if got, want := r.StateDigest(snap.Header.Tick), rl.ticks[snap.Header.Tick].Digest; got != want {
		t.Fatalf("digest=%s want %s", got, want)
	}

	r.ReconcileOnce()
	if res := r.ReconcileOnce(); res.Changed() {
		t.Fatalf("second pass changed state: %+v", res)
	}
}
