package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownOp     = "E_UNKNOWN_OP"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrUnavailable   = "E_UNAVAILABLE"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrUnknownOp:       {},
	ErrInvalidTarget:   {},
	ErrRateLimit:       {},
	ErrUnavailable:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is a rejected request, reported to the client as an ERROR message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func Errorf(code, msg string) *Error { return &Error{Code: code, Message: msg} }

// ErrorMessage builds the ERROR message for e.
func ErrorMessage(e *Error) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		Code:            e.Code,
		Message:         e.Message,
	}
}
