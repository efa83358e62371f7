package drone

import "dronecraft.ai/internal/sim/grid"

// Event is one notable transition, collected per tick for the tick log.
type Event struct {
	Tick   uint64  `json:"tick"`
	Drone  string  `json:"drone"`
	Type   string  `json:"type"`
	Pos    *[3]int `json:"pos,omitempty"`
	Detail string  `json:"detail,omitempty"`
}

func (d *Drone) emit(now uint64, typ string, pos *grid.Coord, detail string) {
	ev := Event{Tick: now, Drone: d.ID, Type: typ, Detail: detail}
	if pos != nil {
		a := pos.Array()
		ev.Pos = &a
	}
	d.events = append(d.events, ev)
}

// TakeEvents returns and clears the pending events.
func (d *Drone) TakeEvents() []Event {
	out := d.events
	d.events = nil
	return out
}
