package world

import (
	"sort"

	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/inventory"
)

// maxNetworkNodes bounds storage-network flood fills.
const maxNetworkNodes = 4096

// Inventory returns a copy of the container contents at pos.
func (w *World) Inventory(pos grid.Coord) (map[string]int, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	inv, ok := w.containers[pos]
	if !ok {
		return nil, false
	}
	return inv.Items(), true
}

// Deposit puts up to n units of item into the container at pos and returns
// what did not fit. Non-containers accept nothing.
func (w *World) Deposit(pos grid.Coord, item string, n int, simulate bool) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.containers[pos]
	if !ok {
		return n
	}
	return inv.Insert(item, n, simulate)
}

func (w *World) containerCoordsLocked() []grid.Coord {
	out := make([]grid.Coord, 0, len(w.containers))
	for p := range w.containers {
		out = append(out, p)
	}
	grid.SortCoords(out)
	return out
}

// FindNearbyInventoryWith returns the closest container within radius of from
// that holds at least one item. Ties break lexicographically.
func (w *World) FindNearbyInventoryWith(from grid.Coord, radius int, item string) (grid.Coord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.nearestLocked(from, radius, func(p grid.Coord) bool {
		return w.containers[p].Count(item) > 0
	})
}

// FindNearbyAcceptor returns the closest container within radius of from with
// room for item.
func (w *World) FindNearbyAcceptor(from grid.Coord, radius int, item string) (grid.Coord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.nearestLocked(from, radius, func(p grid.Coord) bool {
		return w.containers[p].Room(item) > 0
	})
}

func (w *World) nearestLocked(from grid.Coord, radius int, ok func(grid.Coord) bool) (grid.Coord, bool) {
	r2 := radius * radius
	var best grid.Coord
	bestD := -1
	for _, p := range w.containerCoordsLocked() {
		d := grid.DistSq(from, p)
		if radius > 0 && d > r2 {
			continue
		}
		if !ok(p) {
			continue
		}
		if bestD < 0 || d < bestD {
			best, bestD = p, d
		}
	}
	return best, bestD >= 0
}

// NetworkOf returns every container reachable from pos through face-adjacent
// containers and conduits, in lexicographic order. pos itself must be a
// container or conduit.
func (w *World) NetworkOf(pos grid.Coord) []grid.Coord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.networkLocked(pos)
}

func (w *World) networkLocked(pos grid.Coord) []grid.Coord {
	linked := func(p grid.Coord) bool {
		if _, ok := w.containers[p]; ok {
			return true
		}
		return w.cats.IsConduit(w.readLocked(p).Block)
	}
	if !linked(pos) {
		return nil
	}
	seen := map[grid.Coord]bool{pos: true}
	queue := []grid.Coord{pos}
	var out []grid.Coord
	for len(queue) > 0 && len(seen) <= maxNetworkNodes {
		p := queue[0]
		queue = queue[1:]
		if _, ok := w.containers[p]; ok {
			out = append(out, p)
		}
		for _, n := range grid.Neighbors6(p) {
			if seen[n] || !linked(n) {
				continue
			}
			seen[n] = true
			queue = append(queue, n)
		}
	}
	grid.SortCoords(out)
	return out
}

// FindNetworkInventoryWith searches the storage network attached to root for
// a container holding item. The container with the most units wins.
func (w *World) FindNetworkInventoryWith(root grid.Coord, item string) (grid.Coord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	net := w.networkLocked(root)
	sort.SliceStable(net, func(i, j int) bool {
		return w.containers[net[i]].Count(item) > w.containers[net[j]].Count(item)
	})
	if len(net) == 0 || w.containers[net[0]].Count(item) == 0 {
		return grid.Coord{}, false
	}
	return net[0], true
}

// FindNetworkAcceptor searches the storage network attached to root for a
// container with room for item, preferring root itself.
func (w *World) FindNetworkAcceptor(root grid.Coord, item string) (grid.Coord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if inv, ok := w.containers[root]; ok && inv.Room(item) > 0 {
		return root, true
	}
	for _, p := range w.networkLocked(root) {
		if w.containers[p].Room(item) > 0 {
			return p, true
		}
	}
	return grid.Coord{}, false
}

// TransferItem moves up to n units of item from the container at pos into
// carried and returns the requested units that were not moved.
func (w *World) TransferItem(pos grid.Coord, carried *inventory.Inventory, item string, n int, simulate bool) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.containers[pos]
	if !ok {
		return n
	}
	return inventory.Transfer(inv, carried, item, n, simulate)
}

// StoreItem is the reverse of TransferItem: carried -> container at pos.
func (w *World) StoreItem(pos grid.Coord, carried *inventory.Inventory, item string, n int, simulate bool) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.containers[pos]
	if !ok {
		return n
	}
	return inventory.Transfer(carried, inv, item, n, simulate)
}
