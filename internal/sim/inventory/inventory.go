// Package inventory implements bounded slot inventories used by containers
// and by drones for carried material.
package inventory

import "sort"

const DefaultStackSize = 64

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// Inventory holds item counts packed into at most Slots stacks of StackSize.
// Slots == 0 means unbounded. Not safe for concurrent use; owners lock.
type Inventory struct {
	Slots     int
	StackSize int

	items map[string]int
}

func New(slots, stackSize int) *Inventory {
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	if slots < 0 {
		slots = 0
	}
	return &Inventory{Slots: slots, StackSize: stackSize, items: map[string]int{}}
}

// FromItems builds an inventory pre-filled with items, ignoring capacity.
func FromItems(slots, stackSize int, items map[string]int) *Inventory {
	inv := New(slots, stackSize)
	for k, v := range items {
		if k != "" && v > 0 {
			inv.items[k] = v
		}
	}
	return inv
}

func (inv *Inventory) Count(item string) int {
	if inv == nil {
		return 0
	}
	return inv.items[item]
}

// Items returns a copy of the contents.
func (inv *Inventory) Items() map[string]int {
	out := make(map[string]int, len(inv.items))
	for k, v := range inv.items {
		out[k] = v
	}
	return out
}

func (inv *Inventory) List() []ItemStack {
	out := make([]ItemStack, 0, len(inv.items))
	for item, c := range inv.items {
		out = append(out, ItemStack{Item: item, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

func (inv *Inventory) IsEmpty() bool { return inv == nil || len(inv.items) == 0 }

func (inv *Inventory) stacks(count int) int {
	return (count + inv.StackSize - 1) / inv.StackSize
}

func (inv *Inventory) SlotsUsed() int {
	n := 0
	for _, c := range inv.items {
		n += inv.stacks(c)
	}
	return n
}

// Full reports whether no free slot remains.
func (inv *Inventory) Full() bool {
	return inv.Slots > 0 && inv.SlotsUsed() >= inv.Slots
}

// Room is how many more units of item fit.
func (inv *Inventory) Room(item string) int {
	if item == "" {
		return 0
	}
	c := inv.items[item]
	partial := inv.stacks(c)*inv.StackSize - c
	if inv.Slots == 0 {
		return int(^uint(0)>>1) - c
	}
	free := inv.Slots - inv.SlotsUsed()
	if free < 0 {
		free = 0
	}
	return partial + free*inv.StackSize
}

// Insert adds up to n units and returns what did not fit.
func (inv *Inventory) Insert(item string, n int, simulate bool) (remainder int) {
	if n <= 0 {
		return 0
	}
	if item == "" {
		return n
	}
	accepted := n
	if room := inv.Room(item); room < accepted {
		accepted = room
	}
	if !simulate && accepted > 0 {
		inv.items[item] += accepted
	}
	return n - accepted
}

// Extract removes up to n units and returns how many were removed.
func (inv *Inventory) Extract(item string, n int, simulate bool) (extracted int) {
	if n <= 0 {
		return 0
	}
	have := inv.items[item]
	if have < n {
		n = have
	}
	if !simulate && n > 0 {
		if have-n == 0 {
			delete(inv.items, item)
		} else {
			inv.items[item] = have - n
		}
	}
	return n
}

// Transfer moves up to n units of item from src to dst and returns the number
// of requested units that were not moved. With simulate nothing changes.
// A partial failure on the commit path is rolled back.
func Transfer(src, dst *Inventory, item string, n int, simulate bool) (remainder int) {
	if src == nil || dst == nil || n <= 0 || src == dst {
		return n
	}
	avail := src.Extract(item, n, true)
	if avail == 0 {
		return n
	}
	fits := avail - dst.Insert(item, avail, true)
	if fits <= 0 {
		return n
	}
	if simulate {
		return n - fits
	}
	took := src.Extract(item, fits, false)
	if left := dst.Insert(item, took, false); left > 0 {
		src.Insert(item, left, false)
		return n - (took - left)
	}
	return n - took
}
