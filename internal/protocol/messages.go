package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Blueprints      []string    `json:"blueprints"`
}

type WorldParams struct {
	TickRateHz int `json:"tick_rate_hz"`
	BoundaryR  int `json:"boundary_r"`
	BucketSize int `json:"bucket_size"`
}

type CellIntent struct {
	Pos   [3]int `json:"pos"`
	State string `json:"state"`
	// Data is attached to the cell once built. It travels as base64.
	Data []byte `json:"data,omitempty"`
}

// DECLARE (client -> server)
type DeclareMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ReqID           string       `json:"req_id"`
	Name            string       `json:"name"`
	Cells           []CellIntent `json:"cells"`
}

// BLUEPRINT (client -> server)
type BlueprintMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Name            string `json:"name,omitempty"`
	BlueprintID     string `json:"blueprint_id"`
	Anchor          [3]int `json:"anchor"`
	Rotation        int    `json:"rotation,omitempty"`
}

// UNDO / REDO / JOBS (client -> server) carry no payload beyond BaseMessage.

// SPAWN (client -> server)
type SpawnMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id"`
	Pos             [3]int  `json:"pos"`
	Home            *[3]int `json:"home,omitempty"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Tick            uint64 `json:"tick"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`

	Action  string         `json:"action,omitempty"`
	Applied int            `json:"applied,omitempty"`
	DroneID string         `json:"drone_id,omitempty"`
	Plan    *BlueprintPlan `json:"plan,omitempty"`
}

type BlueprintPlan struct {
	Cells    int            `json:"cells"`
	Unplaced [][3]int       `json:"unplaced"`
	Needs    map[string]int `json:"needs"`
}

type JobEntry struct {
	Pos      [3]int `json:"pos"`
	Kind     string `json:"kind"`
	Target   string `json:"target,omitempty"`
	Assignee string `json:"assignee,omitempty"`
}

// JOBS_SNAPSHOT (server -> client)
type JobsSnapshotMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ReqID           string     `json:"req_id,omitempty"`
	Tick            uint64     `json:"tick"`
	Jobs            []JobEntry `json:"jobs"`
}

func NewResult(reqID string, tick uint64) ResultMsg {
	return ResultMsg{Type: TypeResult, ProtocolVersion: Version, ReqID: reqID, Tick: tick, OK: true}
}

// Fail turns r into an error result.
func (r ResultMsg) Fail(code, msg string) ResultMsg {
	r.OK = false
	r.Code = code
	r.Message = msg
	return r
}
