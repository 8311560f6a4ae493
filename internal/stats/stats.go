// Package stats derives aggregate lobby statistics from a room list
// snapshot. Aggregates are recomputed from scratch on every update rather
// than incrementally patched; O(n) over tens of rooms is cheaper than drift
// bugs.
package stats

import (
	"math"

	"github.com/miniplay/lobby-client/internal/protocol"
)

type RoomStatistics struct {
	TotalRooms            int                        `json:"totalRooms"`
	PublicRooms           int                        `json:"publicRooms"`
	PrivateRooms          int                        `json:"privateRooms"`
	TotalPlayers          int                        `json:"totalPlayers"`
	AveragePlayersPerRoom float64                    `json:"averagePlayersPerRoom"`
	RoomsByState          map[protocol.RoomState]int `json:"roomsByState"`
}

// Calculate aggregates a room list. The state histogram always carries all
// five states so consumers can index without existence checks.
func Calculate(rooms []protocol.ActiveRoom) RoomStatistics {
	s := RoomStatistics{RoomsByState: make(map[protocol.RoomState]int, len(protocol.RoomStates))}
	for _, st := range protocol.RoomStates {
		s.RoomsByState[st] = 0
	}

	for _, r := range rooms {
		s.TotalRooms++
		if r.IsPrivate {
			s.PrivateRooms++
		} else {
			s.PublicRooms++
		}
		s.TotalPlayers += r.PlayerCount
		s.RoomsByState[r.State]++
	}

	if s.TotalRooms > 0 {
		avg := float64(s.TotalPlayers) / float64(s.TotalRooms)
		s.AveragePlayersPerRoom = math.Round(avg*10) / 10
	}
	return s
}
