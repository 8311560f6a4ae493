package games

import "fmt"

// SettingSpec describes one configurable room setting for a game.
type SettingSpec struct {
	Type    string // "number" | "select" | "boolean"
	Label   string
	Default any
	Options []string // for "select"
	Min     int      // for "number"
	Max     int      // for "number"
}

// GameInfo is the static descriptor of a playable game variant. The registry
// is fixed at build time and never mutated at runtime.
type GameInfo struct {
	ID          string
	Name        string
	RoomType    string
	MinPlayers  int
	MaxPlayers  int
	Description string
	Features    []string
	Settings    map[string]SettingSpec
}

var registry = map[string]GameInfo{
	"snake": {
		ID:          "snake",
		Name:        "Snake Royale",
		RoomType:    "snake_room",
		MinPlayers:  2,
		MaxPlayers:  8,
		Description: "Last snake slithering wins.",
		Features:    []string{"quick-match", "private-rooms"},
		Settings: map[string]SettingSpec{
			"speed": {Type: "select", Label: "Speed", Default: "normal", Options: []string{"slow", "normal", "fast"}},
			"rounds": {Type: "number", Label: "Rounds", Default: 3, Min: 1, Max: 10},
		},
	},
	"pong": {
		ID:          "pong",
		Name:        "Pong Duel",
		RoomType:    "pong_room",
		MinPlayers:  2,
		MaxPlayers:  2,
		Description: "Classic head-to-head paddle battle.",
		Features:    []string{"quick-match"},
		Settings: map[string]SettingSpec{
			"winScore": {Type: "number", Label: "Points to win", Default: 11, Min: 5, Max: 21},
		},
	},
	"drawblitz": {
		ID:          "drawblitz",
		Name:        "Draw Blitz",
		RoomType:    "draw_room",
		MinPlayers:  3,
		MaxPlayers:  12,
		Description: "Sketch fast, guess faster.",
		Features:    []string{"private-rooms", "spectators"},
		Settings: map[string]SettingSpec{
			"drawTime": {Type: "number", Label: "Draw time (seconds)", Default: 80, Min: 30, Max: 180},
			"language": {Type: "select", Label: "Word language", Default: "en", Options: []string{"en", "de", "fr", "es"}},
		},
	},
	"quizrush": {
		ID:          "quizrush",
		Name:        "Quiz Rush",
		RoomType:    "quiz_room",
		MinPlayers:  2,
		MaxPlayers:  16,
		Description: "Rapid-fire trivia rounds.",
		Features:    []string{"quick-match", "private-rooms"},
		Settings: map[string]SettingSpec{
			"questionCount": {Type: "number", Label: "Questions", Default: 10, Min: 5, Max: 30},
			"hardMode":      {Type: "boolean", Label: "Hard mode", Default: false},
		},
	},
}

// Lookup returns the descriptor for a game id.
func Lookup(id string) (GameInfo, bool) {
	g, ok := registry[id]
	return g, ok
}

// All returns every registered game. The returned slice is a copy.
func All() []GameInfo {
	out := make([]GameInfo, 0, len(registry))
	for _, g := range registry {
		out = append(out, g)
	}
	return out
}

// ValidateSettings checks user-supplied room settings against the game's
// schema. Unknown keys and out-of-range values are rejected before anything
// reaches the wire.
func (g GameInfo) ValidateSettings(settings map[string]any) error {
	for key, val := range settings {
		spec, ok := g.Settings[key]
		if !ok {
			return fmt.Errorf("unknown setting %q for game %s", key, g.ID)
		}
		switch spec.Type {
		case "number":
			n, ok := asInt(val)
			if !ok {
				return fmt.Errorf("setting %q: expected a number", key)
			}
			if n < spec.Min || n > spec.Max {
				return fmt.Errorf("setting %q: %d out of range [%d, %d]", key, n, spec.Min, spec.Max)
			}
		case "select":
			s, ok := val.(string)
			if !ok {
				return fmt.Errorf("setting %q: expected a string", key)
			}
			found := false
			for _, opt := range spec.Options {
				if opt == s {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("setting %q: %q is not one of %v", key, s, spec.Options)
			}
		case "boolean":
			if _, ok := val.(bool); !ok {
				return fmt.Errorf("setting %q: expected a boolean", key)
			}
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		// json numbers arrive as float64
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
