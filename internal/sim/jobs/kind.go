package jobs

import (
	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
)

type Kind uint8

const (
	KindNone Kind = iota
	Construction
	MarkerRemoval
	DirectDeconstruct
	Hibernating
)

func (k Kind) String() string {
	switch k {
	case Construction:
		return "CONSTRUCTION"
	case MarkerRemoval:
		return "MARKER_REMOVAL"
	case DirectDeconstruct:
		return "DIRECT_DECONSTRUCT"
	case Hibernating:
		return "HIBERNATING"
	default:
		return "NONE"
	}
}

func ParseKind(s string) (Kind, bool) {
	for _, k := range []Kind{Construction, MarkerRemoval, DirectDeconstruct, Hibernating} {
		if k.String() == s {
			return k, true
		}
	}
	return KindNone, false
}

// Clears reports whether a drone services k by clearing the cell.
func (k Kind) Clears() bool { return k == MarkerRemoval || k == DirectDeconstruct }

// Phase is the logical state tag callers pass to RegisterIntent.
type Phase uint8

const (
	// PhaseClear: intent satisfied or withdrawn; drops the job and its claim.
	PhaseClear Phase = iota
	// PhaseBuild: a marker is in place and the target needs building.
	PhaseBuild
	// PhaseRemoveMarker: a stray marker needs clearing.
	PhaseRemoveMarker
	// PhaseMissingItems: no material source exists; the job sleeps.
	PhaseMissingItems
	// PhaseEnRoute: a builder is travelling with material; keep its claim.
	PhaseEnRoute
)

func (p Phase) kind() Kind {
	switch p {
	case PhaseBuild, PhaseEnRoute:
		return Construction
	case PhaseRemoveMarker:
		return MarkerRemoval
	case PhaseMissingItems:
		return Hibernating
	default:
		return KindNone
	}
}

// Job is the claimable work item handed to drones. For Construction Target
// is the state to build; for the clearing kinds it is the state to leave
// behind (Empty or a chained marker).
type Job struct {
	Pos    grid.Coord `json:"pos"`
	Kind   Kind       `json:"kind"`
	Target cell.State `json:"target"`
}

// Entry is the read-only view of one registered job.
type Entry struct {
	Kind     Kind       `json:"kind"`
	Target   cell.State `json:"target"`
	Assignee string     `json:"assignee,omitempty"`
}
