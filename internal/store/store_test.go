package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/miniplay/lobby-client/internal/client"
	"github.com/miniplay/lobby-client/internal/protocol"
	"github.com/miniplay/lobby-client/internal/stats"
)

type fakeTransport struct {
	mu        sync.Mutex
	events    chan client.Event
	rooms     []protocol.ActiveRoom
	joinErr   error
	createErr error
	block     chan struct{} // when non-nil, CreateRoom waits on it
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan client.Event, 64)}
}

func (f *fakeTransport) emit(ev client.Event) { f.events <- ev }

func (f *fakeTransport) Connect(ctx context.Context) error        { return nil }
func (f *fakeTransport) ForceReconnect(ctx context.Context) error { return nil }
func (f *fakeTransport) Disconnect()                              {}

func (f *fakeTransport) ActiveRooms(ctx context.Context, gameID string) ([]protocol.ActiveRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms, nil
}

func (f *fakeTransport) CreateRoom(ctx context.Context, gameID string, opts client.CreateRoomOptions) (client.CreatedRoom, error) {
	f.mu.Lock()
	block := f.block
	err := f.createErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return client.CreatedRoom{}, err
	}
	return client.CreatedRoom{RoomID: "new-room", RoomCode: "NEWROO"}, nil
}

func (f *fakeTransport) JoinRoom(ctx context.Context, roomID string, knownRooms []protocol.ActiveRoom) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joinErr
}

func (f *fakeTransport) JoinByCode(ctx context.Context, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return "", f.joinErr
	}
	return "joined-room", nil
}

func (f *fakeTransport) QuickMatch(ctx context.Context, gameID string) (string, error) {
	return "matched-room", nil
}

func (f *fakeTransport) Subscribe() (<-chan client.Event, func()) {
	return f.events, func() {}
}

func newTestStore(t *testing.T, tr Transport) *Store {
	t.Helper()
	cfg := Config{DebounceRooms: 50 * time.Millisecond, BatchStateChanges: 60 * time.Millisecond}
	s := New(cfg, tr, zaptest.NewLogger(t))
	t.Cleanup(s.Dispose)
	return s
}

// waitSnap scans snapshots until pred holds.
func waitSnap(t *testing.T, ch <-chan Snapshot, within time.Duration, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatalf("snapshot channel closed")
			}
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}

func roomsUpdate(ids ...string) client.RoomsUpdated {
	rooms := make([]protocol.ActiveRoom, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, protocol.ActiveRoom{
			RoomID: id, RoomCode: "CODE00", GameID: "snake",
			PlayerCount: 1, MaxPlayers: 8, State: protocol.StateLobby,
		})
	}
	return client.RoomsUpdated{Rooms: rooms, Stats: stats.Calculate(rooms)}
}

func TestRoomsUpdated_BurstDebouncesToOneApply(t *testing.T) {
	tr := newFakeTransport()
	s := newTestStore(t, tr)
	snaps, unsub := s.Subscribe()
	defer unsub()

	// Three bursts inside the 50ms window.
	tr.emit(roomsUpdate("a"))
	tr.emit(roomsUpdate("a", "b"))
	tr.emit(roomsUpdate("a", "b", "c"))

	snap := waitSnap(t, snaps, time.Second, func(sn Snapshot) bool { return len(sn.Rooms) > 0 })
	if len(snap.Rooms) != 3 {
		t.Fatalf("apply must reflect the last event of the burst, got %d rooms", len(snap.Rooms))
	}

	// No second apply follows: the burst produced exactly one update.
	select {
	case extra := <-snaps:
		t.Fatalf("expected exactly one applied update, got another: %+v", extra.Rooms)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRoomStateChanges_BatchIntoOneUpdate(t *testing.T) {
	tr := newFakeTransport()
	s := newTestStore(t, tr)
	snaps, unsub := s.Subscribe()
	defer unsub()

	tr.emit(roomsUpdate("a", "b", "c"))
	waitSnap(t, snaps, time.Second, func(sn Snapshot) bool { return len(sn.Rooms) == 3 })

	tr.emit(client.RoomStateChanged{RoomID: "a", OldState: protocol.StateLobby, NewState: protocol.StateCountdown})
	tr.emit(client.RoomStateChanged{RoomID: "b", OldState: protocol.StateLobby, NewState: protocol.StatePlaying})

	snap := waitSnap(t, snaps, time.Second, func(sn Snapshot) bool {
		return sn.Stats.RoomsByState[protocol.StateCountdown] == 1
	})
	// Both transitions landed in the same combined update.
	if snap.Stats.RoomsByState[protocol.StatePlaying] != 1 {
		t.Fatalf("batch should combine both transitions, got %v", snap.Stats.RoomsByState)
	}
	if snap.Stats.RoomsByState[protocol.StateLobby] != 1 {
		t.Fatalf("remaining room should still be in LOBBY, got %v", snap.Stats.RoomsByState)
	}
}

func TestRoomDisposed_PrunedImmediately(t *testing.T) {
	tr := newFakeTransport()
	s := newTestStore(t, tr)
	snaps, unsub := s.Subscribe()
	defer unsub()

	tr.emit(roomsUpdate("a", "b"))
	waitSnap(t, snaps, time.Second, func(sn Snapshot) bool { return len(sn.Rooms) == 2 })

	tr.emit(client.RoomDisposed{RoomID: "a", Reason: "empty"})
	snap := waitSnap(t, snaps, time.Second, func(sn Snapshot) bool { return len(sn.Rooms) == 1 })
	if snap.Rooms[0].RoomID != "b" {
		t.Fatalf("wrong room pruned: %+v", snap.Rooms)
	}
	if snap.Stats.TotalRooms != 1 {
		t.Fatalf("stats must be recomputed on dispose: %+v", snap.Stats)
	}
}

func TestJoinFailure_PopulatesErrorAndAlternatives(t *testing.T) {
	tr := newFakeTransport()
	tr.joinErr = &protocol.JoinError{
		Code:    protocol.CodeRoomFull,
		Message: "room is full",
		Alternatives: []protocol.RoomAlternative{
			{RoomID: "alt-1", RoomCode: "ALT001", PlayerCount: 5, MaxPlayers: 8, State: protocol.StateLobby, Similarity: 0.9},
		},
	}
	s := newTestStore(t, tr)

	err := s.JoinRoom(context.Background(), "full-room")
	if err == nil {
		t.Fatalf("expected join failure")
	}

	snap := waitForSnapshot(t, s, func(sn Snapshot) bool { return sn.LastError != "" })
	if snap.LastError != "room is full" {
		t.Fatalf("want user-facing error, got %q", snap.LastError)
	}
	if len(snap.Alternatives) != 1 || !snap.ShowJoinModal {
		t.Fatalf("join failure should surface alternatives: %+v", snap)
	}
	if snap.JoiningRoomID != "" {
		t.Fatalf("joining flag must clear after failure")
	}
}

// waitForSnapshot polls the store until pred holds; for tests asserting on
// settled state rather than individual updates.
func waitForSnapshot(t *testing.T, s *Store, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if pred(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held; last snapshot: %+v", s.Snapshot())
	return Snapshot{}
}

func TestCreateRoom_TogglesCreatingFlag(t *testing.T) {
	tr := newFakeTransport()
	tr.block = make(chan struct{})
	s := newTestStore(t, tr)

	done := make(chan error, 1)
	go func() {
		_, err := s.CreateRoom(context.Background(), "snake", client.CreateRoomOptions{})
		done <- err
	}()

	waitForSnapshot(t, s, func(sn Snapshot) bool { return sn.CreatingRoom })
	close(tr.block)

	if err := <-done; err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	waitForSnapshot(t, s, func(sn Snapshot) bool { return !sn.CreatingRoom })
}

func TestOnlyMostRecentErrorIsKept(t *testing.T) {
	tr := newFakeTransport()
	s := newTestStore(t, tr)

	tr.joinErr = &protocol.JoinError{Code: protocol.CodeRoomNotFound, Message: "first failure"}
	_ = s.JoinRoom(context.Background(), "r1")
	waitForSnapshot(t, s, func(sn Snapshot) bool { return sn.LastError == "first failure" })

	tr.mu.Lock()
	tr.joinErr = &protocol.JoinError{Code: protocol.CodeRoomClosed, Message: "second failure"}
	tr.mu.Unlock()
	_ = s.JoinRoom(context.Background(), "r2")
	snap := waitForSnapshot(t, s, func(sn Snapshot) bool { return sn.LastError == "second failure" })
	if snap.LastError != "second failure" {
		t.Fatalf("only the most recent error is retained, got %q", snap.LastError)
	}
}

func TestStatusChangesFlowThrough(t *testing.T) {
	tr := newFakeTransport()
	s := newTestStore(t, tr)

	tr.emit(client.StatusChanged{Old: client.StatusDisconnected, New: client.StatusConnecting})
	tr.emit(client.StatusChanged{Old: client.StatusConnecting, New: client.StatusConnected})

	waitForSnapshot(t, s, func(sn Snapshot) bool { return sn.Status == client.StatusConnected })
}

func TestDispose_ClosesSubscribers(t *testing.T) {
	tr := newFakeTransport()
	cfg := DefaultConfig()
	s := New(cfg, tr, zaptest.NewLogger(t))

	snaps, _ := s.Subscribe()
	s.Dispose()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-snaps:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscriber channel not closed on Dispose")
		}
	}
}

func TestClearErrorAndModals(t *testing.T) {
	tr := newFakeTransport()
	tr.joinErr = errors.New("plain failure")
	s := newTestStore(t, tr)

	_ = s.JoinRoom(context.Background(), "r1")
	waitForSnapshot(t, s, func(sn Snapshot) bool { return sn.LastError == "plain failure" })

	s.ClearError()
	waitForSnapshot(t, s, func(sn Snapshot) bool { return sn.LastError == "" })

	s.SetCreateModal(true)
	waitForSnapshot(t, s, func(sn Snapshot) bool { return sn.ShowCreateModal })
	s.SetJoinModal(false)
	waitForSnapshot(t, s, func(sn Snapshot) bool { return !sn.ShowJoinModal && sn.Alternatives == nil })
}
