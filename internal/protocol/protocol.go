// Package protocol defines the JSON command messages exchanged over the
// websocket transport and validates inbound messages against embedded
// JSON schemas.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"

	TypeDeclare   = "DECLARE"
	TypeBlueprint = "BLUEPRINT"
	TypeUndo      = "UNDO"
	TypeRedo      = "REDO"
	TypeSpawn     = "SPAWN"
	TypeJobs      = "JOBS"

	TypeResult       = "RESULT"
	TypeJobsSnapshot = "JOBS_SNAPSHOT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
