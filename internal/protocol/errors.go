package protocol

import "fmt"

// ErrorCode classifies a lobby failure. Codes arriving from the server are
// surfaced verbatim; the client maps its own local failures (validation,
// timeouts) into the same taxonomy so callers handle one set of codes.
type ErrorCode string

const (
	CodeRoomFull             ErrorCode = "ROOM_FULL"
	CodeRoomNotFound         ErrorCode = "ROOM_NOT_FOUND"
	CodeRoomClosed           ErrorCode = "ROOM_CLOSED"
	CodeInvalidRoomState     ErrorCode = "INVALID_ROOM_STATE"
	CodeInvalidRoomCode      ErrorCode = "INVALID_ROOM_CODE"
	CodePermissionDenied     ErrorCode = "PERMISSION_DENIED"
	CodeConnectionFailed     ErrorCode = "CONNECTION_FAILED"
	CodeMaxReconnectAttempts ErrorCode = "MAX_RECONNECT_ATTEMPTS"
)

// JoinError is a structured room-join failure. For ROOM_FULL it carries the
// ranked alternative rooms so the caller can offer a "pick another room" flow.
type JoinError struct {
	Code         ErrorCode
	Message      string
	Alternatives []RoomAlternative
}

func (e *JoinError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// UserMessage returns the human-readable message for the UI layer, falling
// back to a generic message per code when the server sent none.
func (e *JoinError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Code {
	case CodeRoomFull:
		return "That room is full."
	case CodeRoomNotFound:
		return "Room not found. Check the code and try again."
	case CodeRoomClosed:
		return "That room has already started or closed."
	case CodeInvalidRoomState:
		return "That room is not accepting players right now."
	case CodeInvalidRoomCode:
		return "Room codes are 6 letters or digits."
	case CodePermissionDenied:
		return "You don't have access to that room."
	default:
		return "Could not join the room. Please try again."
	}
}

// ConnError is a connection-level failure emitted on the event stream.
type ConnError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *ConnError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ConnError) Unwrap() error { return e.Cause }
