package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> server message types.
const (
	TypeRefreshRooms    = "refresh_rooms"
	TypeCreateRoom      = "create_room"
	TypeJoinRoom        = "join_room"
	TypeJoinPrivateRoom = "join_private_room"
	TypeQuickMatch      = "quick_match"
)

// Server -> client message types.
const (
	TypeLobbyJoined      = "lobby_joined"
	TypeRoomsUpdated     = "rooms_updated"
	TypeRoomCreated      = "room_created"
	TypeRoomJoined       = "room_joined"
	TypeRoomStateChanged = "room_state_changed"
	TypeRoomDisposed     = "room_disposed"
	TypeRoomAlternatives = "room_alternatives"
	TypeError            = "error"
)

// ClientMessage is the single flat request shape sent to the lobby service.
// CorrelationID is client-generated; servers that support it echo it back on
// the matching reply so concurrent same-type operations never cross wires.
type ClientMessage struct {
	Type          string         `json:"type"`
	CorrelationID string         `json:"correlationId,omitempty"`
	GameID        string         `json:"gameId,omitempty"`
	RoomID        string         `json:"roomId,omitempty"`
	RoomCode      string         `json:"roomCode,omitempty"`
	IsPrivate     bool           `json:"isPrivate,omitempty"`
	Settings      map[string]any `json:"settings,omitempty"`
}

// ServerMessage is the decoded, validated form of an incoming frame. Exactly
// one concrete type per wire message type; unknown or malformed frames fail
// decoding and are dropped by the caller.
type ServerMessage interface{ isServerMsg() }

type LobbyJoined struct {
	ActiveRooms []ActiveRoom `json:"activeRooms"`
}

type RoomsUpdated struct {
	ActiveRooms []ActiveRoom `json:"activeRooms"`
}

type RoomCreated struct {
	RoomID        string `json:"roomId"`
	RoomCode      string `json:"roomCode"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type RoomJoined struct {
	RoomID        string `json:"roomId"`
	IsQuickMatch  bool   `json:"isQuickMatch,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type RoomStateChanged struct {
	RoomID   string    `json:"roomId"`
	OldState RoomState `json:"oldState"`
	NewState RoomState `json:"newState"`
}

type RoomDisposed struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason,omitempty"`
}

type RoomAlternatives struct {
	RequestedRoomID string            `json:"requestedRoomId"`
	Alternatives    []RoomAlternative `json:"alternatives"`
}

type ErrorMessage struct {
	Code          ErrorCode `json:"code"`
	Message       string    `json:"message,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func (LobbyJoined) isServerMsg()      {}
func (RoomsUpdated) isServerMsg()     {}
func (RoomCreated) isServerMsg()      {}
func (RoomJoined) isServerMsg()       {}
func (RoomStateChanged) isServerMsg() {}
func (RoomDisposed) isServerMsg()     {}
func (RoomAlternatives) isServerMsg() {}
func (ErrorMessage) isServerMsg()     {}

var ErrUnknownMessage = errors.New("unknown message type")

type envelope struct {
	Type string `json:"type"`
}

// DecodeServerMessage parses one incoming frame into its tagged variant.
// Frames with an unknown type or fields that fail validation return an
// error; the transport logs and drops them rather than propagating partial
// payloads.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case TypeLobbyJoined:
		var m LobbyJoined
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := validateRooms(m.ActiveRooms); err != nil {
			return nil, err
		}
		return m, nil

	case TypeRoomsUpdated:
		var m RoomsUpdated
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := validateRooms(m.ActiveRooms); err != nil {
			return nil, err
		}
		return m, nil

	case TypeRoomCreated:
		var m RoomCreated
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, errors.New("room_created missing roomId")
		}
		return m, nil

	case TypeRoomJoined:
		var m RoomJoined
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeRoomStateChanged:
		var m RoomStateChanged
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, errors.New("room_state_changed missing roomId")
		}
		if !m.NewState.Valid() {
			return nil, fmt.Errorf("room_state_changed: bad state %q", m.NewState)
		}
		return m, nil

	case TypeRoomDisposed:
		var m RoomDisposed
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, errors.New("room_disposed missing roomId")
		}
		return m, nil

	case TypeRoomAlternatives:
		var m RoomAlternatives
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeError:
		var m ErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Code == "" {
			return nil, errors.New("error frame missing code")
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

func validateRooms(rooms []ActiveRoom) error {
	for _, r := range rooms {
		if r.RoomID == "" {
			return errors.New("room snapshot missing roomId")
		}
		if !r.State.Valid() {
			return fmt.Errorf("room %s: bad state %q", r.RoomID, r.State)
		}
	}
	return nil
}
