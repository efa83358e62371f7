package world

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"

	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/logic/mathx"
)

const chunkSize = 16

type ChunkKey struct {
	CX int
	CZ int
}

func chunkKeyOf(pos grid.Coord) ChunkKey {
	return ChunkKey{CX: mathx.FloorDiv(pos.X, chunkSize), CZ: mathx.FloorDiv(pos.Z, chunkSize)}
}

// Chunk is a sparse 16x16 column of non-empty cells.
type Chunk struct {
	Key   ChunkKey
	Cells map[grid.Coord]cell.State

	dirty bool
	hash  [32]byte
}

func newChunk(k ChunkKey) *Chunk {
	return &Chunk{Key: k, Cells: map[grid.Coord]cell.State{}, dirty: true}
}

func (c *Chunk) get(pos grid.Coord) cell.State {
	return c.Cells[pos]
}

func (c *Chunk) set(pos grid.Coord, s cell.State) {
	s = s.Normalize()
	if c.Cells[pos] == s {
		return
	}
	if s.IsEmpty() {
		delete(c.Cells, pos)
	} else {
		c.Cells[pos] = s
	}
	c.dirty = true
}

func (c *Chunk) sortedCoords() []grid.Coord {
	out := make([]grid.Coord, 0, len(c.Cells))
	for p := range c.Cells {
		out = append(out, p)
	}
	grid.SortCoords(out)
	return out
}

// Digest hashes the chunk contents in coordinate order.
func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := blake3.New()
		for _, p := range c.sortedCoords() {
			writeCoord(h, p)
			_, _ = h.Write([]byte(c.Cells[p].String()))
			_, _ = h.Write([]byte{0})
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

func sortedChunkKeys(m map[ChunkKey]*Chunk) []ChunkKey {
	keys := make([]ChunkKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

func digestChunks(m map[ChunkKey]*Chunk) [32]byte {
	h := blake3.New()
	var tmp [8]byte
	for _, k := range sortedChunkKeys(m) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(k.CX)))
		_, _ = h.Write(tmp[:])
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(k.CZ)))
		_, _ = h.Write(tmp[:])
		d := m[k].Digest()
		_, _ = h.Write(d[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeCoord(h *blake3.Hasher, p grid.Coord) {
	var tmp [8]byte
	for _, v := range p.Array() {
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
		_, _ = h.Write(tmp[:])
	}
}
