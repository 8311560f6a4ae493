// Command lobbyctl is a terminal front end for the lobby client: it
// connects to a lobby service, prints the live room list and statistics,
// and can create, join, or quick-match into rooms.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/miniplay/lobby-client/internal/client"
	"github.com/miniplay/lobby-client/internal/games"
	"github.com/miniplay/lobby-client/internal/offline"
	"github.com/miniplay/lobby-client/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lobbyctl:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real config comes from the environment.
	_ = godotenv.Load()

	var (
		gameID  = flag.String("game", "", "filter rooms to one game id")
		create  = flag.Bool("create", false, "create a room for -game")
		private = flag.Bool("private", false, "make the created room private")
		join    = flag.String("join", "", "join a room by id")
		code    = flag.String("code", "", "join a private room by 6-character code")
		quick   = flag.Bool("quick", false, "quick-match into -game")
		watch   = flag.Bool("watch", false, "keep watching room updates")
	)
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := client.ConfigFromEnv()
	cl := client.New(cfg, log.Named("client"))
	defer cl.Close()

	st := store.New(store.DefaultConfig(), cl, log.Named("store"))
	defer st.Dispose()
	st.SelectGame(*gameID)

	oh := offline.New(offline.Config{
		PingURL: healthURL(cfg.URL),
	}, cl, offline.Callbacks{
		OnOffline: func() { log.Warn("network appears to be offline") },
		OnOnline:  func() { log.Info("network is back") },
	}, log.Named("offline"))
	defer oh.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := st.ConnectToLobby(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer st.DisconnectFromLobby()

	switch {
	case *create:
		if *gameID == "" {
			return fmt.Errorf("-create requires -game")
		}
		created, err := st.CreateRoom(ctx, *gameID, client.CreateRoomOptions{IsPrivate: *private})
		if err != nil {
			return err
		}
		fmt.Printf("created room %s (code %s)\n", created.RoomID, created.RoomCode)

	case *join != "":
		if err := st.JoinRoom(ctx, *join); err != nil {
			return err
		}
		fmt.Printf("joined room %s\n", *join)

	case *code != "":
		roomID, err := st.JoinByCode(ctx, *code)
		if err != nil {
			return err
		}
		fmt.Printf("joined private room %s\n", roomID)

	case *quick:
		if *gameID == "" {
			return fmt.Errorf("-quick requires -game")
		}
		roomID, err := st.QuickMatch(ctx, *gameID)
		if err != nil {
			return err
		}
		fmt.Printf("matched into room %s\n", roomID)
	}

	if err := st.RefreshRooms(ctx); err != nil {
		return err
	}

	if *watch {
		return watchRooms(ctx, st)
	}

	// Give the debounced update a moment to apply, then print once.
	time.Sleep(250 * time.Millisecond)
	printSnapshot(st.Snapshot())
	return nil
}

func watchRooms(ctx context.Context, st *store.Store) error {
	snaps, unsub := st.Subscribe()
	defer unsub()
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			printSnapshot(snap)
		case <-ctx.Done():
			return nil
		}
	}
}

func printSnapshot(snap store.Snapshot) {
	fmt.Printf("status=%s rooms=%d players=%d avg=%.1f\n",
		snap.Status, snap.Stats.TotalRooms, snap.Stats.TotalPlayers, snap.Stats.AveragePlayersPerRoom)
	for _, r := range snap.Rooms {
		name := r.GameID
		if g, ok := games.Lookup(r.GameID); ok {
			name = g.Name
		}
		visibility := "public"
		if r.IsPrivate {
			visibility = "private"
		}
		fmt.Printf("  %-12s %s  %d/%d  %-9s %s\n",
			r.RoomCode, name, r.PlayerCount, r.MaxPlayers, r.State, visibility)
	}
	if snap.LastError != "" {
		fmt.Printf("  last error: %s\n", snap.LastError)
	}
}

// healthURL derives the liveness endpoint from the ws base URL.
func healthURL(wsURL string) string {
	url := wsURL
	switch {
	case len(url) > 6 && url[:6] == "wss://":
		url = "https://" + url[6:]
	case len(url) > 5 && url[:5] == "ws://":
		url = "http://" + url[5:]
	}
	return url + "/healthz"
}
