package cell

import "bytes"

// Snapshot is a point-in-time capture of a cell: its State plus the optional
// attached-data blob.
type Snapshot struct {
	State State  `json:"state"`
	Data  []byte `json:"data,omitempty"`
}

func Snap(s State) Snapshot { return Snapshot{State: s.Normalize()} }

func (s Snapshot) Equal(o Snapshot) bool {
	return s.State.Normalize() == o.State.Normalize() && bytes.Equal(s.Data, o.Data)
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{State: s.State}
	if len(s.Data) > 0 {
		out.Data = append([]byte(nil), s.Data...)
	}
	return out
}

// OccupantKind tags the Occupant variant.
type OccupantKind uint8

const (
	OccupantNone OccupantKind = iota
	OccupantPlain
	OccupantContainer
	OccupantMarker
)

func (k OccupantKind) String() string {
	switch k {
	case OccupantNone:
		return "NONE"
	case OccupantPlain:
		return "PLAIN"
	case OccupantContainer:
		return "CONTAINER"
	case OccupantMarker:
		return "MARKER"
	default:
		return "UNKNOWN"
	}
}

// Occupant is what a harvester finds at a coordinate. Items is set only for
// containers and Target only for markers.
type Occupant struct {
	Kind   OccupantKind
	State  State
	Items  map[string]int
	Target State
}
