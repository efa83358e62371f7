package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"go.uber.org/zap"

	persistlog "dronecraft.ai/internal/persistence/log"
	"dronecraft.ai/internal/persistence/snapshot"
	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/reconcile"
	"dronecraft.ai/internal/sim/scheduler"
	"dronecraft.ai/internal/sim/tuning"
)

func describeSnapshot(s snapshot.SnapshotV1) string {
	assigned := 0
	for _, j := range s.Jobs {
		if j.Assignee != "" {
			assigned++
		}
	}
	return fmt.Sprintf("snapshot v%d world=%s tick=%d rate=%dHz boundary=%d bucket=%d cells=%d intents=%d dirty=%d jobs=%d assigned=%d drones=%d retired=%d",
		s.Header.Version, s.Header.WorldID, s.Header.Tick, s.TickRate, s.BoundaryR, s.BucketSize,
		len(s.Cells), len(s.Ledger.Stacks), len(s.Ledger.Dirty), len(s.Jobs), assigned, len(s.Drones), s.Counters.Retired)
}

type eventSummary struct {
	Ticks     int
	First     uint64
	Last      uint64
	Issued    int
	Retracted int
	Markers   int
	Spawned   int
	Events    map[string]int
}

func summarizeEvents(dir string) (eventSummary, error) {
	sum := eventSummary{Events: map[string]int{}}
	err := persistlog.ReadDir(dir, func(e scheduler.TickLogEntry) error {
		if sum.Ticks == 0 {
			sum.First = e.Tick
		} else if e.Tick != sum.Last+1 {
			return fmt.Errorf("tick gap: %d after %d", e.Tick, sum.Last)
		}
		sum.Ticks++
		sum.Last = e.Tick
		sum.Issued += e.Reconcile.Issued
		sum.Retracted += e.Reconcile.Retracted
		sum.Markers += e.Reconcile.MarkersPlaced
		sum.Spawned += len(e.Spawned)
		for _, ev := range e.Events {
			sum.Events[ev.Type]++
		}
		return nil
	})
	return sum, err
}

func (s eventSummary) print(w io.Writer) {
	fmt.Fprintf(w, "ticks=%d range=[%d,%d] issued=%d retracted=%d markers=%d spawned=%d\n",
		s.Ticks, s.First, s.Last, s.Issued, s.Retracted, s.Markers, s.Spawned)
	types := make([]string, 0, len(s.Events))
	for t := range s.Events {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-20s %d\n", t, s.Events[t])
	}
}

type verifyReport struct {
	Tick    uint64
	Digest  string
	Logged  string
	HaveLog bool
	First   reconcile.Result
	Second  reconcile.Result
}

var (
	errDigestMismatch = errors.New("digest mismatch")
	errNotIdempotent  = errors.New("reconciliation not idempotent")
)

// verifySnapshot resumes snap into a fresh scheduler, compares its digest
// with the one logged for the snapshot tick, then runs two reconciliation
// passes; the second must change nothing.
func verifySnapshot(snap snapshot.SnapshotV1, eventsDir string, cats *catalogs.Catalogs, log *zap.Logger) (verifyReport, error) {
	tune := tuning.Defaults()
	if snap.TickRate > 0 {
		tune.TickRateHz = snap.TickRate
	}
	tune.WorldBoundaryR = snap.BoundaryR
	tune.Jobs.BucketSize = snap.BucketSize
	tune.SnapshotEveryTicks = 0

	s, err := scheduler.New(scheduler.Config{WorldID: snap.Header.WorldID, Tuning: tune}, cats, log)
	if err != nil {
		return verifyReport{}, err
	}
	if err := s.ImportSnapshot(snap); err != nil {
		return verifyReport{}, fmt.Errorf("import snapshot: %w", err)
	}

	rep := verifyReport{Tick: snap.Header.Tick, Digest: s.StateDigest(snap.Header.Tick)}
	if eventsDir != "" {
		found := errors.New("found")
		err := persistlog.ReadDir(eventsDir, func(e scheduler.TickLogEntry) error {
			if e.Tick == snap.Header.Tick {
				rep.Logged, rep.HaveLog = e.Digest, true
				return found
			}
			return nil
		})
		if err != nil && !errors.Is(err, found) {
			return rep, fmt.Errorf("read events: %w", err)
		}
	}

	rep.First = s.ReconcileOnce()
	rep.Second = s.ReconcileOnce()
	return rep, nil
}

func (r verifyReport) err() error {
	if r.HaveLog && r.Logged != r.Digest {
		return fmt.Errorf("%w at tick %d", errDigestMismatch, r.Tick)
	}
	if r.Second.Changed() {
		return errNotIdempotent
	}
	return nil
}

func (r verifyReport) print(w io.Writer) {
	switch {
	case !r.HaveLog:
		fmt.Fprintf(w, "tick=%d digest=%s (no tick log entry)\n", r.Tick, r.Digest)
	case r.Logged == r.Digest:
		fmt.Fprintf(w, "tick=%d digest=%s matches tick log\n", r.Tick, r.Digest)
	default:
		fmt.Fprintf(w, "tick=%d digest=%s logged=%s MISMATCH\n", r.Tick, r.Digest, r.Logged)
	}
	fmt.Fprintf(w, "reconcile pass 1: %+v\n", r.First)
	fmt.Fprintf(w, "reconcile pass 2: %+v\n", r.Second)
}

func parsePos(args []string) ([3]int, error) {
	var p [3]int
	for i := range p {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return p, fmt.Errorf("coordinate %q: %w", args[i], err)
		}
		p[i] = v
	}
	return p, nil
}
