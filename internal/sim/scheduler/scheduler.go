// Package scheduler owns one simulated world and everything that reconciles
// it: the ledger, the job registry, the reconciliation engine and the drone
// fleet. There is no package-level state; construct one Scheduler per world.
package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"dronecraft.ai/internal/persistence/snapshot"
	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/drone"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/jobs"
	"dronecraft.ai/internal/sim/ledger"
	"dronecraft.ai/internal/sim/reconcile"
	"dronecraft.ai/internal/sim/tuning"
	"dronecraft.ai/internal/sim/world"
)

var (
	ErrEmptyBatch       = errors.New("empty intent batch")
	ErrBadState         = errors.New("invalid cell state")
	ErrOutOfBounds      = errors.New("coordinate out of bounds")
	ErrUnknownBlueprint = errors.New("unknown blueprint")
	ErrBadHome          = errors.New("home is not a container")
	ErrStopped          = errors.New("scheduler stopped")
)

type Config struct {
	WorldID string
	Tuning  tuning.Tuning
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry world.AuditEntry) error
}

// JobPublisher receives the job table on the sync interval. Implementations
// must not block the tick.
type JobPublisher interface {
	PublishJobs(tick uint64, jobs []JobView)
}

type TickLogEntry struct {
	Tick      uint64           `json:"tick"`
	Reconcile reconcile.Result `json:"reconcile"`
	Woke      int              `json:"woke,omitempty"`
	Swept     int              `json:"swept,omitempty"`
	Spawned   []string         `json:"spawned,omitempty"`
	Events    []drone.Event    `json:"events,omitempty"`
	Digest    string           `json:"digest"`
}

type Option func(*Scheduler)

func WithTickLogger(l TickLogger) Option   { return func(s *Scheduler) { s.tickLogger = l } }
func WithAuditLogger(l AuditLogger) Option { return func(s *Scheduler) { s.auditLogger = l } }
func WithJobPublisher(p JobPublisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}
func WithSnapshotSink(ch chan<- snapshot.SnapshotV1) Option {
	return func(s *Scheduler) { s.snapshotSink = ch }
}

type Scheduler struct {
	worldID string
	cats    *catalogs.Catalogs
	log     *zap.Logger

	cfg atomic.Pointer[tuning.Tuning]

	world  *world.World
	ledger *ledger.Ledger
	jobs   *jobs.Registry
	engine *reconcile.Engine
	env    *droneEnv

	// Loop-owned.
	drones    map[string]*drone.Drone
	nextDrone uint64
	retired   uint64

	tick atomic.Uint64

	spawn    chan spawnReq
	tuningCh chan tuning.Tuning
	stop     chan struct{}
	stopOnce sync.Once

	auditMu       sync.Mutex
	pendingAudits []world.AuditEntry

	metrics atomic.Value

	tickLogger   TickLogger
	auditLogger  AuditLogger
	publisher    JobPublisher
	snapshotSink chan<- snapshot.SnapshotV1
}

func New(cfg Config, cats *catalogs.Catalogs, log *zap.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	if cats == nil {
		cats = catalogs.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WorldID == "" {
		cfg.WorldID = "world_1"
	}
	t := cfg.Tuning

	s := &Scheduler{
		worldID:  cfg.WorldID,
		cats:     cats,
		log:      log.With(zap.String("world", cfg.WorldID)),
		world:    world.New(world.Config{BoundaryR: t.WorldBoundaryR}, cats),
		ledger:   ledger.New(t.Ledger.UndoLimit),
		jobs:     jobs.NewRegistry(jobConfig(t)),
		drones:   map[string]*drone.Drone{},
		spawn:    make(chan spawnReq, 64),
		tuningCh: make(chan tuning.Tuning, 1),
		stop:     make(chan struct{}),
	}
	s.cfg.Store(&t)
	s.engine = reconcile.New(s.world, s.ledger, s.jobs)
	s.env = &droneEnv{World: s.world, ledger: s.ledger}
	s.world.OnChange(s.onWorldChange)
	s.world.OnAudit(s.onAudit)
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.Store(Metrics{})
	return s, nil
}

func jobConfig(t tuning.Tuning) jobs.Config {
	return jobs.Config{
		BucketSize:     t.Jobs.BucketSize,
		MaxRing:        t.Jobs.MaxRing,
		WakeEveryTicks: uint64(t.Jobs.WakeEveryTicks),
	}
}

func (s *Scheduler) ID() string                   { return s.worldID }
func (s *Scheduler) World() *world.World          { return s.world }
func (s *Scheduler) Ledger() *ledger.Ledger       { return s.ledger }
func (s *Scheduler) Jobs() *jobs.Registry         { return s.jobs }
func (s *Scheduler) Catalogs() *catalogs.Catalogs { return s.cats }
func (s *Scheduler) CurrentTick() uint64          { return s.tick.Load() }
func (s *Scheduler) Tuning() tuning.Tuning        { return *s.cfg.Load() }

// onWorldChange re-dirties tracked coordinates after any edit the engine did
// not make itself.
func (s *Scheduler) onWorldChange(pos grid.Coord, actor string) {
	if actor == reconcile.Actor {
		return
	}
	s.ledger.MarkDirty(pos)
}

func (s *Scheduler) onAudit(e world.AuditEntry) {
	s.auditMu.Lock()
	s.pendingAudits = append(s.pendingAudits, e)
	s.auditMu.Unlock()
}

func (s *Scheduler) takeAudits() []world.AuditEntry {
	s.auditMu.Lock()
	out := s.pendingAudits
	s.pendingAudits = nil
	s.auditMu.Unlock()
	return out
}

// droneEnv exposes the world plus declared attached data to drones.
type droneEnv struct {
	*world.World
	ledger *ledger.Ledger
}

func (e *droneEnv) IntentData(pos grid.Coord) ([]byte, bool) {
	top, ok := e.ledger.Top(pos)
	if !ok || len(top.Data) == 0 {
		return nil, false
	}
	return top.Data, true
}
