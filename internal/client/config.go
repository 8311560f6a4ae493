package client

import (
	"os"
	"strconv"
	"time"

	"github.com/miniplay/lobby-client/internal/retry"
)

// Config carries every tunable of the transport client. The debounce-style
// windows and backoff parameters are empirically chosen defaults, not
// invariants; override per deployment.
type Config struct {
	// URL is the lobby service base, e.g. ws://localhost:3002. The lobby
	// channel is joined at URL + "/lobby".
	URL string

	// QueryTimeout bounds refresh and join round-trips.
	QueryTimeout time.Duration
	// CreateTimeout bounds create_room and quick_match round-trips.
	CreateTimeout time.Duration

	// ConnectRetry governs dial attempts within a single Connect call.
	ConnectRetry retry.Config
	// OpRetry governs transient retries of room mutations (create).
	OpRetry retry.Config

	// Background reconnect backoff: min(ReconnectBase * 2^attempt, ReconnectMax),
	// halting after MaxReconnectAttempts until ForceReconnect.
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		URL:           "ws://localhost:3002",
		QueryTimeout:  10 * time.Second,
		CreateTimeout: 15 * time.Second,
		ConnectRetry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		OpRetry: retry.Config{
			MaxAttempts: 2,
			BaseDelay:   time.Second,
			MaxDelay:    5 * time.Second,
		},
		ReconnectBase:        time.Second,
		ReconnectMax:         30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// ConfigFromEnv layers environment overrides onto DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if url := os.Getenv("LOBBY_SERVER_URL"); url != "" {
		cfg.URL = url
	}
	if v := os.Getenv("LOBBY_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("LOBBY_RECONNECT_BASE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconnectBase = time.Duration(n) * time.Millisecond
		}
	}
	return cfg
}
