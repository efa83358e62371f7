package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrUnknownType     = "E_UNKNOWN_TYPE"

	// Command layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrOutOfBounds   = "E_OUT_OF_BOUNDS"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrNothingToUndo = "E_NOTHING_TO_UNDO"
	ErrNothingToRedo = "E_NOTHING_TO_REDO"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrBusy          = "E_BUSY"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrUnknownType:     {},
	ErrBadRequest:      {},
	ErrInvalidTarget:   {},
	ErrOutOfBounds:     {},
	ErrNoResource:      {},
	ErrNothingToUndo:   {},
	ErrNothingToRedo:   {},
	ErrRateLimit:       {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
