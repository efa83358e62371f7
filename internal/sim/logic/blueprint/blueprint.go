// Package blueprint expands catalog blueprints into per-coordinate intent.
package blueprint

import (
	"fmt"

	"dronecraft.ai/internal/sim/grid"
)

// NormalizeRotation converts a rotation value into a quarter-turn count in
// [0,3]. It accepts quarter-turns (0..3) or degrees (multiples of 90).
func NormalizeRotation(r int) int {
	if r%90 == 0 && (r > 3 || r < -3) {
		r = r / 90
	}
	r %= 4
	if r < 0 {
		r += 4
	}
	return r
}

// RotateXZ rotates an (x,z) offset clockwise around Y by rot quarter-turns.
func RotateXZ(x, z, rot int) (rx, rz int) {
	switch rot & 3 {
	case 0:
		return x, z
	case 1:
		return z, -x
	case 2:
		return -x, -z
	default:
		return -z, x
	}
}

func RotateOffset(off [3]int, rot int) [3]int {
	rx, rz := RotateXZ(off[0], off[2], rot)
	return [3]int{rx, off[1], rz}
}

type Placement struct {
	Pos   [3]int
	Block string
}

// Expand places every block relative to anchor. Two placements landing on the
// same coordinate are rejected.
func Expand(blocks []Placement, anchor grid.Coord, rotation int) (map[grid.Coord]string, error) {
	rot := NormalizeRotation(rotation)
	out := make(map[grid.Coord]string, len(blocks))
	for _, b := range blocks {
		off := RotateOffset(b.Pos, rot)
		pos := anchor.Add(grid.FromArray(off))
		if prev, dup := out[pos]; dup {
			return nil, fmt.Errorf("blueprint: %v placed twice (%s, %s)", pos, prev, b.Block)
		}
		out[pos] = b.Block
	}
	return out, nil
}

// Unplaced lists expanded coordinates whose current block differs, in
// lexicographic order.
func Unplaced(expanded map[grid.Coord]string, blockAt func(grid.Coord) string) []grid.Coord {
	var out []grid.Coord
	for pos, want := range expanded {
		if blockAt(pos) != want {
			out = append(out, pos)
		}
	}
	grid.SortCoords(out)
	return out
}

// MaterialNeeds sums the material items required for the given placements;
// materialFor reports the item consumed per block.
func MaterialNeeds(expanded map[grid.Coord]string, only []grid.Coord, materialFor func(block string) (string, bool)) map[string]int {
	out := map[string]int{}
	for _, pos := range only {
		block, ok := expanded[pos]
		if !ok {
			continue
		}
		if item, ok := materialFor(block); ok {
			out[item]++
		}
	}
	return out
}
