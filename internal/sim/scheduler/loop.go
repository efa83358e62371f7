package scheduler

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"runtime"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dronecraft.ai/internal/sim/drone"
	"dronecraft.ai/internal/sim/reconcile"
	"dronecraft.ai/internal/sim/tuning"
)

// Run drives ticks at the configured rate until ctx is cancelled or Stop is
// called. Spawn requests received between ticks are applied at the start of
// the next one.
func (s *Scheduler) Run(ctx context.Context) error {
	hz := s.Tuning().TickRateHz
	if hz <= 0 {
		hz = 5
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	var pending []spawnReq
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.spawn:
			pending = append(pending, req)
		case <-ticker.C:
			s.stepInternal(pending)
			pending = nil
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// StepOnce advances exactly one tick. Not safe to call while Run is active.
func (s *Scheduler) StepOnce() (uint64, string) {
	return s.stepInternal(nil)
}

func (s *Scheduler) stepInternal(spawns []spawnReq) (uint64, string) {
	start := time.Now()
	now := s.tick.Load()

	select {
	case t := <-s.tuningCh:
		s.applyTuning(t)
	default:
	}
	cfg := s.Tuning()

	s.world.SetTick(now)
	s.jobs.SetNow(now)

	var spawned []string
	for _, req := range spawns {
		id, err := s.SpawnDrone(req.start, req.home)
		if err == nil {
			spawned = append(spawned, id)
		}
		req.resp <- spawnResp{id: id, err: err}
	}

	// (a) reconcile declared intent against the world.
	rec := s.engine.Reconcile()

	// (b) drones, in id order.
	ds := s.sortedDrones()
	if cfg.ParallelDrones && len(ds) > 1 {
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for _, d := range ds {
			g.Go(func() error {
				d.Step(s.env, s.jobs, now)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, d := range ds {
			d.Step(s.env, s.jobs, now)
		}
	}
	var events []drone.Event
	for _, d := range ds {
		events = append(events, d.TakeEvents()...)
		if d.Retired {
			delete(s.drones, d.ID)
			s.retired++
		}
	}

	// (c) housekeeping.
	woke := s.jobs.WakeHibernating(now)
	swept := 0
	if every := cfg.Jobs.OrphanSweepEveryTicks; every > 0 && now%uint64(every) == 0 {
		swept = s.engine.SweepOrphanMarkers()
	}
	if s.publisher != nil {
		if every := cfg.Jobs.SyncEveryTicks; every > 0 && now%uint64(every) == 0 && s.jobs.TakeDirty() {
			s.publisher.PublishJobs(now, s.JobViews())
		}
	}

	digest := s.StateDigest(now)

	if s.tickLogger != nil {
		entry := TickLogEntry{
			Tick:      now,
			Reconcile: rec,
			Woke:      woke,
			Swept:     swept,
			Spawned:   spawned,
			Events:    events,
			Digest:    digest,
		}
		if err := s.tickLogger.WriteTick(entry); err != nil {
			s.log.Warn("tick log write failed", zap.Uint64("tick", now), zap.Error(err))
		}
	}
	audits := s.takeAudits()
	if s.auditLogger != nil {
		for _, a := range audits {
			if err := s.auditLogger.WriteAudit(a); err != nil {
				s.log.Warn("audit log write failed", zap.Uint64("tick", now), zap.Error(err))
				break
			}
		}
	}

	if s.snapshotSink != nil && cfg.SnapshotEveryTicks > 0 && now != 0 && now%uint64(cfg.SnapshotEveryTicks) == 0 {
		snap := s.ExportSnapshot(now)
		select {
		case s.snapshotSink <- snap:
		default:
			s.log.Warn("snapshot sink full, dropping", zap.Uint64("tick", now))
		}
	}

	s.metrics.Store(s.collectMetrics(now, digest, time.Since(start)))
	s.tick.Add(1)
	return now, digest
}

func (s *Scheduler) sortedDrones() []*drone.Drone {
	out := make([]*drone.Drone, 0, len(s.drones))
	for _, d := range s.drones {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// applyTuning pushes runtime-adjustable settings into every component.
// World bounds and bucket size are fixed for the scheduler's lifetime.
func (s *Scheduler) applyTuning(t tuning.Tuning) {
	old := s.Tuning()
	t.WorldBoundaryR = old.WorldBoundaryR
	t.Jobs.BucketSize = old.Jobs.BucketSize
	s.cfg.Store(&t)
	s.jobs.SetConfig(jobConfig(t))
	s.ledger.SetUndoLimit(t.Ledger.UndoLimit)
	for _, d := range s.drones {
		d.SetConfig(t.Drone)
	}
	s.log.Info("tuning applied", zap.Int("tick_rate_hz", t.TickRateHz))
}

// StateDigest hashes the world, the job table and the drone fleet as of tick
// now. It matches the digest logged for that tick when no step is running.
func (s *Scheduler) StateDigest(now uint64) string {
	h := blake3.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], now)
	_, _ = h.Write(buf[:])
	wd := s.world.Digest()
	_, _ = h.Write(wd[:])
	for _, j := range s.jobs.Export() {
		writeField(h, j.Kind, j.Target, j.Assignee)
		writeCoord(h, j.Pos)
	}
	for _, d := range s.sortedDrones() {
		writeField(h, d.ID, d.State.String())
		writeCoord(h, d.Pos.Array())
		binary.LittleEndian.PutUint64(buf[:], uint64(d.Energy))
		_, _ = h.Write(buf[:])
		for _, it := range d.Carried.List() {
			writeField(h, it.Item)
			binary.LittleEndian.PutUint64(buf[:], uint64(it.Count))
			_, _ = h.Write(buf[:])
		}
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return hex.EncodeToString(sum[:])
}

func writeField(h *blake3.Hasher, vals ...string) {
	for _, v := range vals {
		_, _ = h.Write([]byte(v))
		_, _ = h.Write([]byte{0})
	}
}

func writeCoord(h *blake3.Hasher, p [3]int) {
	var buf [8]byte
	for _, v := range p {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
		_, _ = h.Write(buf[:])
	}
}

// ReconcileOnce runs a reconciliation pass outside the tick loop. Not safe to
// call while Run is active.
func (s *Scheduler) ReconcileOnce() reconcile.Result {
	return s.engine.Reconcile()
}
