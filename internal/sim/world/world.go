// Package world is the in-memory grid the scheduler reconciles against. It
// owns cell contents, container inventories and attached data, and notifies
// a change hook after every successful write.
package world

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/blake3"

	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/inventory"
	"dronecraft.ai/internal/sim/logic/mathx"
)

type Config struct {
	BoundaryR int // |X|,|Z| limit; 0 = unbounded
	MinY      int
	MaxY      int // MinY == MaxY == 0 means unbounded height
}

// AuditEntry records one cell edit.
type AuditEntry struct {
	Tick   uint64 `json:"tick"`
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Pos    [3]int `json:"pos"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

type World struct {
	mu sync.RWMutex

	cfg  Config
	cats *catalogs.Catalogs

	chunks     map[ChunkKey]*Chunk
	containers map[grid.Coord]*inventory.Inventory
	data       map[grid.Coord][]byte
	markers    map[grid.Coord]struct{}

	tick     uint64
	onChange func(pos grid.Coord, actor string)
	audit    func(AuditEntry)
}

func New(cfg Config, cats *catalogs.Catalogs) *World {
	if cats == nil {
		cats = catalogs.Default()
	}
	return &World{
		cfg:        cfg,
		cats:       cats,
		chunks:     map[ChunkKey]*Chunk{},
		containers: map[grid.Coord]*inventory.Inventory{},
		data:       map[grid.Coord][]byte{},
		markers:    map[grid.Coord]struct{}{},
	}
}

func (w *World) Catalogs() *catalogs.Catalogs { return w.cats }

// OnChange registers the hook called (outside the world lock) after every
// successful cell write.
func (w *World) OnChange(fn func(pos grid.Coord, actor string)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// OnAudit registers the audit sink.
func (w *World) OnAudit(fn func(AuditEntry)) {
	w.mu.Lock()
	w.audit = fn
	w.mu.Unlock()
}

// SetTick stamps subsequent audit entries.
func (w *World) SetTick(t uint64) {
	w.mu.Lock()
	w.tick = t
	w.mu.Unlock()
}

func (w *World) InBounds(pos grid.Coord) bool {
	if r := w.cfg.BoundaryR; r > 0 {
		if mathx.AbsInt(pos.X) > r || mathx.AbsInt(pos.Z) > r {
			return false
		}
	}
	if w.cfg.MinY != 0 || w.cfg.MaxY != 0 {
		if pos.Y < w.cfg.MinY || pos.Y > w.cfg.MaxY {
			return false
		}
	}
	return true
}

func (w *World) ReadCell(pos grid.Coord) cell.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.readLocked(pos)
}

func (w *World) readLocked(pos grid.Coord) cell.State {
	ch := w.chunks[chunkKeyOf(pos)]
	if ch == nil {
		return cell.Empty
	}
	return ch.get(pos)
}

// WriteCell sets pos to s on behalf of the world itself.
func (w *World) WriteCell(pos grid.Coord, s cell.State) bool {
	return w.WriteCellBy("world", "write", pos, s)
}

// WriteCellBy sets pos to s, recording actor and reason in the audit trail.
// Out-of-bounds coordinates and unknown blocks are rejected. Replacing a
// container discards its inventory; callers drain it first.
func (w *World) WriteCellBy(actor, reason string, pos grid.Coord, s cell.State) bool {
	s = s.Normalize()
	w.mu.Lock()
	if !w.InBounds(pos) || !w.cats.KnownBlock(s.Block) {
		w.mu.Unlock()
		return false
	}
	if s.IsMarker() {
		if _, ok := s.MarkerTarget(); !ok {
			w.mu.Unlock()
			return false
		}
	}
	from := w.readLocked(pos)
	if from == s {
		w.mu.Unlock()
		return true
	}
	w.setLocked(pos, s)
	entry := AuditEntry{Tick: w.tick, Actor: actor, Action: "SET_CELL", Pos: pos.Array(), From: from.String(), To: s.String(), Reason: reason}
	onChange, audit := w.onChange, w.audit
	w.mu.Unlock()

	if audit != nil {
		audit(entry)
	}
	if onChange != nil {
		onChange(pos, actor)
	}
	return true
}

func (w *World) setLocked(pos grid.Coord, s cell.State) {
	from := w.readLocked(pos)
	k := chunkKeyOf(pos)
	ch := w.chunks[k]
	if ch == nil {
		ch = newChunk(k)
		w.chunks[k] = ch
	}
	ch.set(pos, s)
	if len(ch.Cells) == 0 {
		delete(w.chunks, k)
	}

	if from.Block != s.Block {
		delete(w.data, pos)
		delete(w.containers, pos)
		if def, ok := w.cats.Block(s.Block); ok && def.Container {
			w.containers[pos] = inventory.New(def.Slots, inventory.DefaultStackSize)
		}
	}
	if s.IsMarker() {
		w.markers[pos] = struct{}{}
	} else {
		delete(w.markers, pos)
	}
}

// ReadAttachedData returns the blob attached to pos. Container contents are
// reported as their CBOR item encoding.
func (w *World) ReadAttachedData(pos grid.Coord) ([]byte, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if inv, ok := w.containers[pos]; ok {
		b, err := cell.EncodeItems(inv.Items())
		if err != nil || b == nil {
			return nil, false
		}
		return b, true
	}
	b, ok := w.data[pos]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// WriteAttachedData attaches blob to a non-empty, non-container cell.
// Container contents only change through item transfer.
func (w *World) WriteAttachedData(pos grid.Coord, blob []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.containers[pos]; ok {
		return false
	}
	if w.readLocked(pos).IsEmpty() {
		return false
	}
	if len(blob) == 0 {
		delete(w.data, pos)
		return true
	}
	w.data[pos] = append([]byte(nil), blob...)
	return true
}

// Occupant classifies what a harvester would find at pos.
func (w *World) Occupant(pos grid.Coord) cell.Occupant {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.readLocked(pos)
	switch {
	case s.IsEmpty():
		return cell.Occupant{Kind: cell.OccupantNone}
	case s.IsMarker():
		target, _ := s.MarkerTarget()
		return cell.Occupant{Kind: cell.OccupantMarker, State: s, Target: target}
	}
	if inv, ok := w.containers[pos]; ok {
		return cell.Occupant{Kind: cell.OccupantContainer, State: s, Items: inv.Items()}
	}
	return cell.Occupant{Kind: cell.OccupantPlain, State: s}
}

// IsReplaceable reports whether builders may overwrite s without clearing it.
func (w *World) IsReplaceable(s cell.State) bool {
	return s.IsEmpty() || w.cats.IsReplaceable(s.Block)
}

// Markers lists marker cells in lexicographic order.
func (w *World) Markers() []grid.Coord {
	w.mu.RLock()
	out := make([]grid.Coord, 0, len(w.markers))
	for p := range w.markers {
		out = append(out, p)
	}
	w.mu.RUnlock()
	grid.SortCoords(out)
	return out
}

func (w *World) CellCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, ch := range w.chunks {
		n += len(ch.Cells)
	}
	return n
}

// Digest combines per-chunk digests in key order, then container contents
// and attached data in coordinate order.
func (w *World) Digest() [32]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := blake3.New()
	cd := digestChunks(w.chunks)
	_, _ = h.Write(cd[:])
	var tmp [8]byte
	for _, p := range w.containerCoordsLocked() {
		writeCoord(h, p)
		for _, st := range w.containers[p].List() {
			_, _ = h.Write([]byte(st.Item))
			_, _ = h.Write([]byte{0})
			binary.LittleEndian.PutUint64(tmp[:], uint64(st.Count))
			_, _ = h.Write(tmp[:])
		}
		_, _ = h.Write([]byte{0xff})
	}
	data := make([]grid.Coord, 0, len(w.data))
	for p := range w.data {
		data = append(data, p)
	}
	grid.SortCoords(data)
	for _, p := range data {
		writeCoord(h, p)
		binary.LittleEndian.PutUint64(tmp[:], uint64(len(w.data[p])))
		_, _ = h.Write(tmp[:])
		_, _ = h.Write(w.data[p])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MaterialFor names the item consumed to place block.
func (w *World) MaterialFor(block string) (string, bool) { return w.cats.MaterialFor(block) }

// IsBreakable reports whether drones may remove block.
func (w *World) IsBreakable(block string) bool { return w.cats.IsBreakable(block) }

// DropsFor names the item harvested from block.
func (w *World) DropsFor(block string) string { return w.cats.DropsFor(block) }
