// Package ws serves the command protocol over websocket plus a few read-only
// HTTP endpoints for the job table and metrics.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dronecraft.ai/internal/protocol"
	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/scheduler"
	"dronecraft.ai/internal/sim/tuning"
)

// Scheduler is the subset of *scheduler.Scheduler the transport drives.
type Scheduler interface {
	ID() string
	CurrentTick() uint64
	Tuning() tuning.Tuning
	Catalogs() *catalogs.Catalogs
	DeclareSnapshotBatch(name string, intents map[grid.Coord]cell.Snapshot) (int, error)
	DeclareBlueprint(name, blueprintID string, anchor grid.Coord, rotation int) (scheduler.BlueprintPlan, error)
	Undo() (string, bool)
	Redo() (string, bool)
	RequestSpawn(ctx context.Context, start grid.Coord, home *grid.Coord) (string, error)
	JobViews() []scheduler.JobView
	Metrics() scheduler.Metrics
}

const (
	defaultQueue = 16
	maxQueue     = 256
	spawnTimeout = 5 * time.Second
)

type Server struct {
	sched     Scheduler
	validator *protocol.Validator
	log       *zap.Logger

	upgrader websocket.Upgrader
}

func NewServer(s Scheduler, logger *zap.Logger) (*Server, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("protocol schemas: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		sched:     s,
		validator: v,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}, nil
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}
		log := s.log.With(zap.String("session", sessionID))
		log.Info("session opened", zap.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handle(ctx, log, msg)
			b, err := json.Marshal(reply)
			if err != nil {
				log.Error("encode reply", zap.Error(err))
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		log.Info("session closed")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello || s.validator.Validate(protocol.TypeHello, msg) != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return "", nil
	}

	q := hello.MaxQueue
	if q <= 0 {
		q = defaultQueue
	}
	if q > maxQueue {
		q = maxQueue
	}

	cfg := s.sched.Tuning()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		WorldID:         s.sched.ID(),
		Tick:            s.sched.CurrentTick(),
		WorldParams: protocol.WorldParams{
			TickRateHz: cfg.TickRateHz,
			BoundaryR:  cfg.WorldBoundaryR,
			BucketSize: cfg.Jobs.BucketSize,
		},
		Blueprints: blueprintIDs(s.sched.Catalogs()),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	return welcome.SessionID, make(chan []byte, q)
}

func blueprintIDs(cats *catalogs.Catalogs) []string {
	ids := make([]string, 0, len(cats.Blueprints.ByID))
	for id := range cats.Blueprints.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// handle executes one inbound command and returns the reply message.
func (s *Server) handle(ctx context.Context, log *zap.Logger, msg []byte) any {
	tick := s.sched.CurrentTick()
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewResult("", tick).Fail(protocol.ErrProtoBadRequest, "malformed json")
	}
	res := protocol.NewResult(base.ReqID, tick)
	if !s.validator.Known(base.Type) || base.Type == protocol.TypeHello {
		return res.Fail(protocol.ErrUnknownType, base.Type)
	}
	if base.ProtocolVersion != protocol.Version {
		return res.Fail(protocol.ErrProtoVersion, base.ProtocolVersion)
	}
	if err := s.validator.Validate(base.Type, msg); err != nil {
		return res.Fail(protocol.ErrProtoBadRequest, err.Error())
	}

	switch base.Type {
	case protocol.TypeDeclare:
		var m protocol.DeclareMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return res.Fail(protocol.ErrProtoBadRequest, err.Error())
		}
		intents, err := decodeCells(m.Cells)
		if err != nil {
			return res.Fail(protocol.ErrInvalidTarget, err.Error())
		}
		name := m.Name
		if name == "" {
			name = "declare"
		}
		n, err := s.sched.DeclareSnapshotBatch(name, intents)
		if err != nil {
			return failFor(res, err)
		}
		res.Action = name
		res.Applied = n
		log.Debug("declare", zap.String("action", name), zap.Int("cells", len(intents)), zap.Int("applied", n))

	case protocol.TypeBlueprint:
		var m protocol.BlueprintMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return res.Fail(protocol.ErrProtoBadRequest, err.Error())
		}
		plan, err := s.sched.DeclareBlueprint(m.Name, m.BlueprintID, grid.FromArray(m.Anchor), m.Rotation)
		if err != nil {
			return failFor(res, err)
		}
		res.Action = m.Name
		if res.Action == "" {
			res.Action = "blueprint:" + m.BlueprintID
		}
		res.Applied = plan.Applied
		res.Plan = &protocol.BlueprintPlan{Cells: plan.Cells, Unplaced: plan.Unplaced, Needs: plan.Needs}

	case protocol.TypeUndo:
		name, ok := s.sched.Undo()
		if !ok {
			return res.Fail(protocol.ErrNothingToUndo, "nothing to undo")
		}
		res.Action = name

	case protocol.TypeRedo:
		name, ok := s.sched.Redo()
		if !ok {
			return res.Fail(protocol.ErrNothingToRedo, "nothing to redo")
		}
		res.Action = name

	case protocol.TypeSpawn:
		var m protocol.SpawnMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return res.Fail(protocol.ErrProtoBadRequest, err.Error())
		}
		var home *grid.Coord
		if m.Home != nil {
			h := grid.FromArray(*m.Home)
			home = &h
		}
		sctx, cancel := context.WithTimeout(ctx, spawnTimeout)
		defer cancel()
		id, err := s.sched.RequestSpawn(sctx, grid.FromArray(m.Pos), home)
		if err != nil {
			return failFor(res, err)
		}
		res.DroneID = id

	case protocol.TypeJobs:
		return protocol.JobsSnapshotMsg{
			Type:            protocol.TypeJobsSnapshot,
			ProtocolVersion: protocol.Version,
			ReqID:           base.ReqID,
			Tick:            tick,
			Jobs:            jobEntries(s.sched.JobViews()),
		}
	}
	return res
}

func decodeCells(cells []protocol.CellIntent) (map[grid.Coord]cell.Snapshot, error) {
	out := make(map[grid.Coord]cell.Snapshot, len(cells))
	for _, c := range cells {
		st, err := cell.Parse(c.State)
		if err != nil {
			return nil, fmt.Errorf("cell %v: %w", c.Pos, err)
		}
		pos := grid.FromArray(c.Pos)
		if _, dup := out[pos]; dup {
			return nil, fmt.Errorf("cell %v declared twice", c.Pos)
		}
		out[pos] = cell.Snapshot{State: st, Data: c.Data}
	}
	return out, nil
}

func jobEntries(views []scheduler.JobView) []protocol.JobEntry {
	out := make([]protocol.JobEntry, 0, len(views))
	for _, v := range views {
		out = append(out, protocol.JobEntry(v))
	}
	return out
}

// failFor maps scheduler errors onto protocol codes.
func failFor(res protocol.ResultMsg, err error) protocol.ResultMsg {
	code := protocol.ErrInternal
	switch {
	case errors.Is(err, scheduler.ErrEmptyBatch):
		code = protocol.ErrBadRequest
	case errors.Is(err, scheduler.ErrOutOfBounds):
		code = protocol.ErrOutOfBounds
	case errors.Is(err, scheduler.ErrBadState), errors.Is(err, scheduler.ErrBadHome):
		code = protocol.ErrInvalidTarget
	case errors.Is(err, scheduler.ErrUnknownBlueprint):
		code = protocol.ErrNoResource
	case errors.Is(err, scheduler.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		code = protocol.ErrBusy
	}
	return res.Fail(code, err.Error())
}
