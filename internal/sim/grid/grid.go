// Package grid holds the integer coordinate type shared by every scheduler
// component and the 2-D bucket arithmetic used for proximity search.
package grid

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"dronecraft.ai/internal/sim/logic/mathx"
)

// Coord addresses one world cell. It compares and hashes by value.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func C(x, y, z int) Coord { return Coord{X: x, Y: y, Z: z} }

func (c Coord) Add(d Coord) Coord { return Coord{X: c.X + d.X, Y: c.Y + d.Y, Z: c.Z + d.Z} }

func (c Coord) Array() [3]int { return [3]int{c.X, c.Y, c.Z} }

func FromArray(a [3]int) Coord { return Coord{X: a[0], Y: a[1], Z: a[2]} }

// String renders "x,y,z"; ParseCoord is its inverse.
func (c Coord) String() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Y) + "," + strconv.Itoa(c.Z)
}

func ParseCoord(s string) (Coord, bool) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return Coord{}, false
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Coord{}, false
		}
		v[i] = n
	}
	return FromArray(v), true
}

// Less orders coordinates lexicographically by X, then Y, then Z.
func Less(a, b Coord) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

func SortCoords(cs []Coord) {
	sort.Slice(cs, func(i, j int) bool { return Less(cs[i], cs[j]) })
}

// DistSq is the squared Euclidean distance.
func DistSq(a, b Coord) int {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

// StepToward moves from toward to by at most speed cells on each axis.
func StepToward(from, to Coord, speed int) Coord {
	if speed <= 0 {
		return from
	}
	step := func(a, b int) int {
		d := b - a
		if mathx.AbsInt(d) <= speed {
			return b
		}
		return a + mathx.Sign(d)*speed
	}
	return Coord{X: step(from.X, to.X), Y: step(from.Y, to.Y), Z: step(from.Z, to.Z)}
}

// Neighbors6 returns the face-adjacent cells in a fixed order.
func Neighbors6(c Coord) [6]Coord {
	return [6]Coord{
		{X: c.X + 1, Y: c.Y, Z: c.Z},
		{X: c.X - 1, Y: c.Y, Z: c.Z},
		{X: c.X, Y: c.Y + 1, Z: c.Z},
		{X: c.X, Y: c.Y - 1, Z: c.Z},
		{X: c.X, Y: c.Y, Z: c.Z + 1},
		{X: c.X, Y: c.Y, Z: c.Z - 1},
	}
}

// Bucket is a 2-D (X/Z) partition key; Y is ignored.
type Bucket struct {
	BX int
	BZ int
}

func (b Bucket) String() string { return fmt.Sprintf("[%d,%d]", b.BX, b.BZ) }

// BucketOf maps a coordinate to its bucket. size must be > 0.
func BucketOf(c Coord, size int) Bucket {
	return Bucket{BX: mathx.FloorDiv(c.X, size), BZ: mathx.FloorDiv(c.Z, size)}
}

// Ring returns the buckets at Chebyshev distance exactly r from center,
// row-major (BX, then BZ). Ring(center, 0) is just center.
func Ring(center Bucket, r int) []Bucket {
	if r < 0 {
		return nil
	}
	if r == 0 {
		return []Bucket{center}
	}
	out := make([]Bucket, 0, 8*r)
	for dx := -r; dx <= r; dx++ {
		if dx == -r || dx == r {
			for dz := -r; dz <= r; dz++ {
				out = append(out, Bucket{BX: center.BX + dx, BZ: center.BZ + dz})
			}
			continue
		}
		out = append(out, Bucket{BX: center.BX + dx, BZ: center.BZ - r})
		out = append(out, Bucket{BX: center.BX + dx, BZ: center.BZ + r})
	}
	return out
}
