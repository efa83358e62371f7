package world

import (
	"fmt"

	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/inventory"
)

// CellRecord is the persisted form of one non-empty cell.
type CellRecord struct {
	Pos   [3]int         `json:"pos"`
	State string         `json:"state"`
	Data  []byte         `json:"data,omitempty"`
	Items map[string]int `json:"items,omitempty"`
}

// ExportCells returns every non-empty cell in lexicographic order.
func (w *World) ExportCells() []CellRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var coords []grid.Coord
	for _, ch := range w.chunks {
		for p := range ch.Cells {
			coords = append(coords, p)
		}
	}
	grid.SortCoords(coords)
	out := make([]CellRecord, 0, len(coords))
	for _, p := range coords {
		rec := CellRecord{Pos: p.Array(), State: w.readLocked(p).String()}
		if b, ok := w.data[p]; ok {
			rec.Data = append([]byte(nil), b...)
		}
		if inv, ok := w.containers[p]; ok && !inv.IsEmpty() {
			rec.Items = inv.Items()
		}
		out = append(out, rec)
	}
	return out
}

// ImportCells replaces the world contents. Hooks do not fire.
func (w *World) ImportCells(recs []CellRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = map[ChunkKey]*Chunk{}
	w.containers = map[grid.Coord]*inventory.Inventory{}
	w.data = map[grid.Coord][]byte{}
	w.markers = map[grid.Coord]struct{}{}
	for _, rec := range recs {
		s, err := cell.Parse(rec.State)
		if err != nil {
			return fmt.Errorf("world: import %v: %w", rec.Pos, err)
		}
		if !w.cats.KnownBlock(s.Block) {
			return fmt.Errorf("world: import %v: unknown block %q", rec.Pos, s.Block)
		}
		p := grid.FromArray(rec.Pos)
		w.setLocked(p, s)
		if len(rec.Data) > 0 {
			w.data[p] = append([]byte(nil), rec.Data...)
		}
		if inv, ok := w.containers[p]; ok && len(rec.Items) > 0 {
			w.containers[p] = inventory.FromItems(inv.Slots, inv.StackSize, rec.Items)
		}
	}
	return nil
}
