package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dronecraft.ai/internal/persistence/snapshot"
	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/drone"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/reconcile"
	"dronecraft.ai/internal/sim/scheduler"
	"dronecraft.ai/internal/sim/tuning"
	"dronecraft.ai/internal/sim/world"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: scheduler.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(scheduler.TickLogEntry{Tick: 2})
	_ = s.WriteAudit(world.AuditEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropAuditTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_WritesAndReads(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertCatalogs(ctx, catalogs.Default(), tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}

	pos := [3]int{1, 2, 3}
	_ = idx.WriteTick(scheduler.TickLogEntry{
		Tick:      5,
		Reconcile: reconcile.Result{Visited: 1, Issued: 1},
		Events: []drone.Event{
			{Tick: 5, Drone: "D1", Type: "CLAIM", Pos: &pos, Detail: "CONSTRUCTION"},
			{Tick: 5, Drone: "D1", Type: "STATE", Detail: "TRAVELING_TO_BUILD"},
		},
		Digest: "d5",
	})
	audits := []world.AuditEntry{
		{Tick: 5, Actor: "reconcile", Action: "SET_CELL", Pos: pos, From: "", To: "MARKER[target=STONE]", Reason: "place marker"},
		{Tick: 9, Actor: "D1", Action: "SET_CELL", Pos: pos, From: "MARKER[target=STONE]", To: "STONE", Reason: "build"},
	}
	for _, a := range audits {
		_ = idx.WriteAudit(a)
	}
	idx.RecordSnapshot("/snaps/10.snap.zst", snapshot.SnapshotV1{
		Header: snapshot.Header{Tick: 10},
		Jobs:   []jobs.Record{{Pos: pos, Kind: "CONSTRUCTION", Target: "STONE"}},
		Drones: []drone.Record{{ID: "D1"}},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := idx.Stats(); st.WriteErrorTotal != 0 {
		t.Fatalf("write errors: %+v", st)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	got, err := r.AuditsAt(ctx, pos, 10)
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(audits, got); d != "" {
		t.Fatalf("audits (-want +got):\n%s", d)
	}
	if d, err := r.TickDigest(ctx, 5); err != nil || d != "d5" {
		t.Fatalf("digest=%q err=%v", d, err)
	}
	if _, err := r.TickDigest(ctx, 6); err == nil {
		t.Fatalf("missing tick reported no error")
	}
	if n, err := r.DroneEventCount(ctx, "D1"); err != nil || n != 2 {
		t.Fatalf("events=%d err=%v", n, err)
	}
	snaps, err := r.Snapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []SnapshotRow{{Tick: 10, Path: "/snaps/10.snap.zst", Jobs: 1, Drones: 1}}
	if d := cmp.Diff(want, snaps); d != "" {
		t.Fatalf("snapshots (-want +got):\n%s", d)
	}
}

func TestSQLiteIndex_IgnoresWritesAfterClose(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}
	if err := idx.WriteTick(scheduler.TickLogEntry{Tick: 1}); err != nil {
		t.Fatal(err)
	}
	if st := idx.Stats(); st.DropTickTotal != 0 {
		t.Fatalf("closed index counted drops: %+v", st)
	}
}
