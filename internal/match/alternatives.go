// Package match suggests joinable rooms similar to one that turned out to
// be unjoinable.
package match

import (
	"sort"

	"github.com/miniplay/lobby-client/internal/protocol"
)

const maxAlternatives = 3

// Similarity weights: fill-ratio closeness dominates, raw player-count
// closeness breaks the rest.
const (
	ratioWeight = 0.6
	countWeight = 0.4
)

// FindAlternatives ranks up to three rooms similar to target from the given
// list. Candidates must be the same game, in LOBBY, have spare capacity, and
// be public; private rooms are never suggested so their existence does not
// leak to players without the code. The target itself is always excluded.
func FindAlternatives(target protocol.ActiveRoom, rooms []protocol.ActiveRoom) []protocol.RoomAlternative {
	var out []protocol.RoomAlternative
	for _, r := range rooms {
		if r.RoomID == target.RoomID {
			continue
		}
		if r.GameID != target.GameID || r.State != protocol.StateLobby || r.IsPrivate || r.Full() {
			continue
		}
		out = append(out, protocol.RoomAlternative{
			RoomID:      r.RoomID,
			RoomCode:    r.RoomCode,
			PlayerCount: r.PlayerCount,
			MaxPlayers:  r.MaxPlayers,
			State:       r.State,
			Similarity:  similarity(target, r),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].RoomID < out[j].RoomID
	})

	if len(out) > maxAlternatives {
		out = out[:maxAlternatives]
	}
	return out
}

func similarity(target, cand protocol.ActiveRoom) float64 {
	ratioScore := 1 - abs(fillRatio(target)-fillRatio(cand))

	span := float64(max(target.MaxPlayers, cand.MaxPlayers))
	countScore := 1.0
	if span > 0 {
		countScore = 1 - abs(float64(target.PlayerCount)-float64(cand.PlayerCount))/span
	}

	return ratioWeight*ratioScore + countWeight*countScore
}

func fillRatio(r protocol.ActiveRoom) float64 {
	if r.MaxPlayers == 0 {
		return 0
	}
	return float64(r.PlayerCount) / float64(r.MaxPlayers)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
