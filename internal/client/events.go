package client

import (
	"github.com/miniplay/lobby-client/internal/protocol"
	"github.com/miniplay/lobby-client/internal/stats"
)

// Status is the connection lifecycle state. Exactly one value holds at a
// time; every transition is announced via a StatusChanged event.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Event is the tagged union delivered to subscribers. One concrete type per
// event so payload shapes are compiler-checked instead of stringly-typed.
type Event interface{ isEvent() }

type Connected struct{}

type Disconnected struct{ Reason string }

type StatusChanged struct{ Old, New Status }

// RoomsUpdated carries the full replacement room list plus statistics
// recomputed from it.
type RoomsUpdated struct {
	Rooms []protocol.ActiveRoom
	Stats stats.RoomStatistics
}

type RoomCreated struct {
	RoomID   string
	RoomCode string
}

type RoomJoined struct {
	RoomID       string
	IsQuickMatch bool
}

type RoomStateChanged struct {
	RoomID   string
	OldState protocol.RoomState
	NewState protocol.RoomState
}

type RoomDisposed struct {
	RoomID string
	Reason string
}

type RoomAlternativesSuggested struct {
	RequestedRoomID string
	Alternatives    []protocol.RoomAlternative
}

// ConnFailure wraps a connection-level error, including the terminal
// MAX_RECONNECT_ATTEMPTS condition.
type ConnFailure struct{ Err *protocol.ConnError }

func (Connected) isEvent()                 {}
func (Disconnected) isEvent()              {}
func (StatusChanged) isEvent()             {}
func (RoomsUpdated) isEvent()              {}
func (RoomCreated) isEvent()               {}
func (RoomJoined) isEvent()                {}
func (RoomStateChanged) isEvent()          {}
func (RoomDisposed) isEvent()              {}
func (RoomAlternativesSuggested) isEvent() {}
func (ConnFailure) isEvent()               {}
