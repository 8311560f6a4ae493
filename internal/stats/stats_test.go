package stats

import (
	"testing"

	"github.com/miniplay/lobby-client/internal/protocol"
)

func room(id string, players, max int, state protocol.RoomState, private bool) protocol.ActiveRoom {
	return protocol.ActiveRoom{
		RoomID:      id,
		RoomCode:    "AAAAAA",
		GameID:      "snake",
		PlayerCount: players,
		MaxPlayers:  max,
		State:       state,
		IsPrivate:   private,
	}
}

func TestCalculate_EmptyList(t *testing.T) {
	s := Calculate(nil)
	if s.TotalRooms != 0 || s.TotalPlayers != 0 || s.AveragePlayersPerRoom != 0 {
		t.Fatalf("empty list should be all zeroes: %+v", s)
	}
	if len(s.RoomsByState) != 5 {
		t.Fatalf("histogram should carry all five states, got %v", s.RoomsByState)
	}
}

func TestCalculate_CountsAndAverage(t *testing.T) {
	rooms := []protocol.ActiveRoom{
		room("r1", 3, 8, protocol.StateLobby, false),
		room("r2", 8, 8, protocol.StatePlaying, false),
		room("r3", 2, 4, protocol.StateLobby, true),
	}

	s := Calculate(rooms)

	if s.TotalRooms != 3 || s.PublicRooms != 2 || s.PrivateRooms != 1 {
		t.Fatalf("bad room counts: %+v", s)
	}
	if s.TotalPlayers != 13 {
		t.Fatalf("want 13 total players, got %d", s.TotalPlayers)
	}
	// 13/3 = 4.333... rounds to 4.3
	if s.AveragePlayersPerRoom != 4.3 {
		t.Fatalf("want average 4.3, got %v", s.AveragePlayersPerRoom)
	}
	if s.RoomsByState[protocol.StateLobby] != 2 || s.RoomsByState[protocol.StatePlaying] != 1 {
		t.Fatalf("bad histogram: %v", s.RoomsByState)
	}
}

// Cross-field invariants that must hold for every input.
func TestCalculate_Invariants(t *testing.T) {
	inputs := [][]protocol.ActiveRoom{
		nil,
		{room("a", 0, 2, protocol.StateReset, true)},
		{
			room("a", 1, 2, protocol.StateLobby, false),
			room("b", 2, 2, protocol.StateCountdown, true),
			room("c", 5, 8, protocol.StateResults, false),
			room("d", 8, 8, protocol.StatePlaying, false),
		},
	}

	for _, rooms := range inputs {
		s := Calculate(rooms)

		if s.TotalRooms != s.PublicRooms+s.PrivateRooms {
			t.Fatalf("totalRooms != public+private: %+v", s)
		}

		sumPlayers := 0
		for _, r := range rooms {
			sumPlayers += r.PlayerCount
		}
		if s.TotalPlayers != sumPlayers {
			t.Fatalf("totalPlayers mismatch: %+v", s)
		}

		histSum := 0
		for _, n := range s.RoomsByState {
			histSum += n
		}
		if histSum != s.TotalRooms {
			t.Fatalf("histogram does not sum to totalRooms: %+v", s)
		}
	}
}
