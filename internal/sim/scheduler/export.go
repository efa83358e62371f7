package scheduler

import (
	"fmt"

	"go.uber.org/zap"

	"dronecraft.ai/internal/persistence/snapshot"
	"dronecraft.ai/internal/sim/drone"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/ledger"
	"dronecraft.ai/internal/sim/reconcile"
	"dronecraft.ai/internal/sim/world"
)

// ExportSnapshot captures full state as of tick. Loop-owned state is read
// directly, so callers outside the loop must not race with Run.
func (s *Scheduler) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	cfg := s.Tuning()
	ds := s.sortedDrones()
	drones := make([]drone.Record, 0, len(ds))
	for _, d := range ds {
		drones = append(drones, d.Export())
	}
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: s.worldID,
			Tick:    tick,
		},
		TickRate:   cfg.TickRateHz,
		BoundaryR:  cfg.WorldBoundaryR,
		BucketSize: cfg.Jobs.BucketSize,
		Cells:      s.world.ExportCells(),
		Ledger:     s.ledger.Export(),
		Jobs:       s.jobs.Export(),
		Drones:     drones,
		Counters: snapshot.CountersV1{
			NextDrone: s.nextDrone,
			Retired:   s.retired,
		},
	}
}

// ImportSnapshot replaces all state with snap and resumes at the tick after
// it. It must be called before Run. On error nothing is modified.
func (s *Scheduler) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	cfg := s.Tuning()
	if snap.BucketSize != 0 && snap.BucketSize != cfg.Jobs.BucketSize {
		return fmt.Errorf("snapshot: bucket size %d does not match configured %d", snap.BucketSize, cfg.Jobs.BucketSize)
	}

	// Stage everything in fresh components first.
	w := world.New(world.Config{BoundaryR: snap.BoundaryR}, s.cats)
	if err := w.ImportCells(snap.Cells); err != nil {
		return fmt.Errorf("snapshot cells: %w", err)
	}
	l := ledger.New(cfg.Ledger.UndoLimit)
	if err := l.Import(snap.Ledger); err != nil {
		return fmt.Errorf("snapshot ledger: %w", err)
	}
	r := jobs.NewRegistry(jobConfig(cfg))
	if err := r.Import(snap.Jobs); err != nil {
		return fmt.Errorf("snapshot jobs: %w", err)
	}
	drones := make(map[string]*drone.Drone, len(snap.Drones))
	for _, rec := range snap.Drones {
		d, err := drone.FromRecord(rec, cfg.Drone, s.log)
		if err != nil {
			return fmt.Errorf("snapshot drone %s: %w", rec.ID, err)
		}
		drones[d.ID] = d
	}

	if snap.Header.WorldID != "" {
		s.worldID = snap.Header.WorldID
	}
	if snap.BoundaryR != 0 && snap.BoundaryR != cfg.WorldBoundaryR {
		cfg.WorldBoundaryR = snap.BoundaryR
		s.cfg.Store(&cfg)
	}
	w.OnChange(s.onWorldChange)
	w.OnAudit(s.onAudit)
	s.world = w
	s.ledger = l
	s.jobs = r
	s.engine = reconcile.New(w, l, r)
	s.env = &droneEnv{World: w, ledger: l}
	s.drones = drones
	s.nextDrone = snap.Counters.NextDrone
	s.retired = snap.Counters.Retired
	s.tick.Store(snap.Header.Tick + 1)
	s.log.Info("snapshot imported",
		zap.Uint64("tick", snap.Header.Tick),
		zap.Int("cells", len(snap.Cells)),
		zap.Int("jobs", len(snap.Jobs)),
		zap.Int("drones", len(drones)),
	)
	return nil
}
