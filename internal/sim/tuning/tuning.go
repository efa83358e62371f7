package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz         int  `yaml:"tick_rate_hz"`
	WorldBoundaryR     int  `yaml:"world_boundary_r"`
	SnapshotEveryTicks int  `yaml:"snapshot_every_ticks"`
	ParallelDrones     bool `yaml:"parallel_drones"`

	Jobs   JobTuning    `yaml:"jobs"`
	Ledger LedgerTuning `yaml:"ledger"`
	Drone  DroneTuning  `yaml:"drone"`
}

type JobTuning struct {
	BucketSize            int `yaml:"bucket_size"`
	MaxRing               int `yaml:"max_ring"`
	WakeEveryTicks        int `yaml:"wake_every_ticks"`
	OrphanSweepEveryTicks int `yaml:"orphan_sweep_every_ticks"`
	SyncEveryTicks        int `yaml:"sync_every_ticks"`
}

type LedgerTuning struct {
	UndoLimit int `yaml:"undo_limit"`
}

type DroneTuning struct {
	Slots           int `yaml:"slots"`
	StackSize       int `yaml:"stack_size"`
	Speed           int `yaml:"speed"`
	Reach           int `yaml:"reach"`
	MaxEnergy       int `yaml:"max_energy"`
	BuildEnergy     int `yaml:"build_energy"`
	ChargePerTick   int `yaml:"charge_per_tick"`
	SearchMinTicks  int `yaml:"search_min_ticks"`
	SearchMaxTicks  int `yaml:"search_max_ticks"`
	WatchdogTicks   int `yaml:"watchdog_ticks"`
	IdleRetireTicks int `yaml:"idle_retire_ticks"`
	LingerTicks     int `yaml:"linger_ticks"`
	FetchRadius     int `yaml:"fetch_radius"`
	DumpRadius      int `yaml:"dump_radius"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         5,
		WorldBoundaryR:     4000,
		SnapshotEveryTicks: 3000,
		Jobs: JobTuning{
			BucketSize:            16,
			MaxRing:               6,
			WakeEveryTicks:        100,
			OrphanSweepEveryTicks: 50,
			SyncEveryTicks:        10,
		},
		Ledger: LedgerTuning{UndoLimit: 64},
		Drone: DroneTuning{
			Slots:           4,
			StackSize:       64,
			Speed:           1,
			Reach:           1,
			MaxEnergy:       2000,
			BuildEnergy:     5,
			ChargePerTick:   50,
			SearchMinTicks:  1,
			SearchMaxTicks:  40,
			WatchdogTicks:   600,
			IdleRetireTicks: 1200,
			LingerTicks:     1,
			FetchRadius:     48,
			DumpRadius:      48,
		},
	}
}

// Load overlays path onto Defaults so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("tick_rate_hz must be > 0")
	case t.Jobs.BucketSize <= 0:
		return fmt.Errorf("jobs.bucket_size must be > 0")
	case t.Jobs.MaxRing < 0:
		return fmt.Errorf("jobs.max_ring must be >= 0")
	case t.Ledger.UndoLimit <= 0:
		return fmt.Errorf("ledger.undo_limit must be > 0")
	case t.Drone.Slots <= 0:
		return fmt.Errorf("drone.slots must be > 0")
	case t.Drone.Speed <= 0:
		return fmt.Errorf("drone.speed must be > 0")
	case t.Drone.MaxEnergy <= 0:
		return fmt.Errorf("drone.max_energy must be > 0")
	case t.Drone.SearchMinTicks <= 0 || t.Drone.SearchMaxTicks < t.Drone.SearchMinTicks:
		return fmt.Errorf("drone.search_min_ticks/search_max_ticks out of range")
	case t.Drone.WatchdogTicks <= 0:
		return fmt.Errorf("drone.watchdog_ticks must be > 0")
	}
	return nil
}
