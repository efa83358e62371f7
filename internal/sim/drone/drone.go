// Package drone implements the per-worker state machine. A Drone holds only
// a reference to its claimed job; the registry owns the job itself.
package drone

import (
	"go.uber.org/zap"

	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/inventory"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/tuning"
)

// Item is the catalog item a retired drone turns back into.
const Item = "DRONE"

type State uint8

const (
	Idle State = iota
	FindingJob
	TravelingToClear
	TravelingToFetch
	TravelingToBuild
	DumpingItems
	Charging
	ReturningHome
)

var stateNames = [...]string{
	Idle:             "IDLE",
	FindingJob:       "FINDING_JOB",
	TravelingToClear: "TRAVELING_TO_CLEAR",
	TravelingToFetch: "TRAVELING_TO_FETCH",
	TravelingToBuild: "TRAVELING_TO_BUILD",
	DumpingItems:     "DUMPING_ITEMS",
	Charging:         "CHARGING",
	ReturningHome:    "RETURNING_HOME",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

func ParseState(v string) (State, bool) {
	for i, n := range stateNames {
		if n == v {
			return State(i), true
		}
	}
	return Idle, false
}

// JobRef is a drone's handle on a claimed job: coordinate plus kind.
type JobRef struct {
	Pos    grid.Coord `json:"pos"`
	Kind   jobs.Kind  `json:"kind"`
	Target cell.State `json:"target"`
}

type Env interface {
	ReadCell(pos grid.Coord) cell.State
	WriteCellBy(actor, reason string, pos grid.Coord, s cell.State) bool
	WriteAttachedData(pos grid.Coord, blob []byte) bool
	Occupant(pos grid.Coord) cell.Occupant
	IsReplaceable(s cell.State) bool
	IsBreakable(block string) bool

	MaterialFor(block string) (string, bool)
	DropsFor(block string) string
	// IntentData is the attached-data blob declared for pos, if any.
	IntentData(pos grid.Coord) ([]byte, bool)

	FindNetworkInventoryWith(root grid.Coord, item string) (grid.Coord, bool)
	FindNearbyInventoryWith(from grid.Coord, radius int, item string) (grid.Coord, bool)
	FindNetworkAcceptor(root grid.Coord, item string) (grid.Coord, bool)
	FindNearbyAcceptor(from grid.Coord, radius int, item string) (grid.Coord, bool)
	Inventory(pos grid.Coord) (map[string]int, bool)
	TransferItem(pos grid.Coord, carried *inventory.Inventory, item string, n int, simulate bool) int
	StoreItem(pos grid.Coord, carried *inventory.Inventory, item string, n int, simulate bool) int
	Deposit(pos grid.Coord, item string, n int, simulate bool) int
}

// Registry is the subset of the job registry a drone talks to.
type Registry interface {
	RequestJob(from grid.Coord, id string, canBuild bool) (jobs.Job, bool)
	Lookup(pos grid.Coord) (jobs.Job, bool)
	IsAssignedTo(pos grid.Coord, id string) bool
	Release(pos grid.Coord, id string)
	Complete(pos grid.Coord, id string) bool
	Hibernate(pos grid.Coord, id string) bool
	RegisterIntent(pos grid.Coord, target cell.State, phase jobs.Phase)
	RegisterDirectDeconstruct(pos grid.Coord, after cell.State)
}

type Drone struct {
	ID      string
	Pos     grid.Coord
	Home    *grid.Coord
	Carried *inventory.Inventory
	Energy  int
	State   State
	Job     *JobRef
	Retired bool

	cfg tuning.DroneTuning
	log *zap.Logger

	fetchFrom   *grid.Coord
	dumpTo      *grid.Coord
	resumeClear bool
	retiring    bool
	dumpFailed  bool // last dump found no storage; the next search skips dumping once

	backoff    int
	nextSearch uint64
	holdUntil  uint64 // linger or failure cool-down before the next search
	jobSince   uint64
	idleSince  uint64

	events []Event
}

func New(id string, pos grid.Coord, home *grid.Coord, cfg tuning.DroneTuning, log *zap.Logger, now uint64) *Drone {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Drone{
		ID:        id,
		Pos:       pos,
		Carried:   inventory.New(cfg.Slots, cfg.StackSize),
		Energy:    cfg.MaxEnergy,
		State:     Idle,
		cfg:       cfg,
		log:       log.With(zap.String("drone", id)),
		idleSince: now,
	}
	if home != nil {
		h := *home
		d.Home = &h
	}
	return d
}

// SetConfig swaps tuning at runtime. Inventory capacity is fixed at spawn.
func (d *Drone) SetConfig(cfg tuning.DroneTuning) {
	cfg.Slots, cfg.StackSize = d.cfg.Slots, d.cfg.StackSize
	d.cfg = cfg
}

// CanBuild reports whether the drone has room to pick up building material.
func (d *Drone) CanBuild() bool { return !d.Carried.Full() }

func (d *Drone) setState(s State, now uint64) {
	if d.State == s {
		return
	}
	d.emit(now, "STATE", nil, d.State.String()+"->"+s.String())
	prev := d.State
	d.State = s
	if s.searching() && !prev.searching() {
		d.idleSince = now
	}
}

func (s State) searching() bool { return s == Idle || s == FindingJob }
