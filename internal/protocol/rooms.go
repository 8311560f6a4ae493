package protocol

import (
	"errors"
	"regexp"
	"strings"
)

// RoomState is the server-authoritative lifecycle state of a room.
type RoomState string

const (
	StateLobby     RoomState = "LOBBY"
	StateCountdown RoomState = "COUNTDOWN"
	StatePlaying   RoomState = "PLAYING"
	StateResults   RoomState = "RESULTS"
	StateReset     RoomState = "RESET"
)

// RoomStates lists every valid state, in lifecycle order.
var RoomStates = []RoomState{StateLobby, StateCountdown, StatePlaying, StateResults, StateReset}

func (s RoomState) Valid() bool {
	switch s {
	case StateLobby, StateCountdown, StatePlaying, StateResults, StateReset:
		return true
	}
	return false
}

// ActiveRoom is an immutable snapshot of a server-side room. The client
// never mutates one in place; each rooms_updated replaces the list wholesale.
type ActiveRoom struct {
	RoomID      string    `json:"roomId"`
	RoomCode    string    `json:"roomCode"`
	GameID      string    `json:"gameId"`
	PlayerCount int       `json:"playerCount"`
	MaxPlayers  int       `json:"maxPlayers"`
	State       RoomState `json:"state"`
	IsPrivate   bool      `json:"isPrivate"`
	CreatedAt   int64     `json:"createdAt"`
}

// Full reports whether the room has no spare capacity.
func (r ActiveRoom) Full() bool { return r.PlayerCount >= r.MaxPlayers }

// RoomAlternative is a ranked "similar room" suggestion offered when a
// requested room is unjoinable. Ephemeral; computed on demand and never
// persisted.
type RoomAlternative struct {
	RoomID      string    `json:"roomId"`
	RoomCode    string    `json:"roomCode"`
	PlayerCount int       `json:"playerCount"`
	MaxPlayers  int       `json:"maxPlayers"`
	State       RoomState `json:"state"`
	Similarity  float64   `json:"similarity"`
}

var roomCodeRe = regexp.MustCompile(`^[A-Z0-9]{6}$`)

var ErrInvalidRoomCode = errors.New("room code must be exactly 6 letters or digits")

// NormalizeRoomCode trims and uppercases a user-entered room code and
// validates it against the 6-character [A-Z0-9] format. Malformed codes are
// rejected here so they never reach the wire.
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !roomCodeRe.MatchString(code) {
		return "", ErrInvalidRoomCode
	}
	return code, nil
}
