// Package store holds the application-visible lobby state: one store per
// session, the sole writer of room and connection state. UI layers read
// snapshots and dispatch actions; they never mutate state directly. That
// single-writer discipline is what keeps the debounce and batch windows
// correct while events keep arriving.
package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/miniplay/lobby-client/internal/client"
	"github.com/miniplay/lobby-client/internal/protocol"
	"github.com/miniplay/lobby-client/internal/stats"
)

// Transport is the slice of the room client the store drives.
type Transport interface {
	Connect(ctx context.Context) error
	ForceReconnect(ctx context.Context) error
	Disconnect()
	ActiveRooms(ctx context.Context, gameID string) ([]protocol.ActiveRoom, error)
	CreateRoom(ctx context.Context, gameID string, opts client.CreateRoomOptions) (client.CreatedRoom, error)
	JoinRoom(ctx context.Context, roomID string, knownRooms []protocol.ActiveRoom) error
	JoinByCode(ctx context.Context, code string) (string, error)
	QuickMatch(ctx context.Context, gameID string) (string, error)
	Subscribe() (<-chan client.Event, func())
}

// Config carries the coalescing windows. Both are empirically chosen
// defaults, deliberately configurable rather than hard-coded.
type Config struct {
	// DebounceRooms postpones applying rooms_updated until the burst settles.
	DebounceRooms time.Duration
	// BatchStateChanges collects room_state_changed events arriving within
	// the window into one combined update.
	BatchStateChanges time.Duration
}

func DefaultConfig() Config {
	return Config{
		DebounceRooms:     100 * time.Millisecond,
		BatchStateChanges: 150 * time.Millisecond,
	}
}

// Snapshot is the read-only view handed to consumers. Slices and maps are
// copies; mutating them has no effect on the store.
type Snapshot struct {
	Version         int
	Status          client.Status
	Rooms           []protocol.ActiveRoom
	Stats           stats.RoomStatistics
	SelectedGame    string
	CreatingRoom    bool
	JoiningRoomID   string
	LastError       string
	Alternatives    []protocol.RoomAlternative
	ShowCreateModal bool
	ShowJoinModal   bool
}

type storeMsg interface{ isStoreMsg() }

type flushRooms struct{}

type flushStates struct{}

type actionStart struct {
	creating bool
	joining  string
}

type actionEnd struct {
	creating bool
	joining  string
	err      error
}

type snapshotReq struct{ reply chan Snapshot }

type selectGame struct{ gameID string }

type setModal struct {
	create  bool
	visible bool
}

type clearError struct{}

type subscribeReq struct{ reply chan subHandle }

type unsubscribeReq struct{ id int }

func (flushRooms) isStoreMsg()     {}
func (flushStates) isStoreMsg()    {}
func (actionStart) isStoreMsg()    {}
func (actionEnd) isStoreMsg()      {}
func (snapshotReq) isStoreMsg()    {}
func (selectGame) isStoreMsg()     {}
func (setModal) isStoreMsg()       {}
func (clearError) isStoreMsg()     {}
func (subscribeReq) isStoreMsg()   {}
func (unsubscribeReq) isStoreMsg() {}

type subHandle struct {
	id int
	ch chan Snapshot
}

type Store struct {
	cfg    Config
	tr     Transport
	log    *zap.Logger
	inbox  chan storeMsg
	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()

	// loop-owned
	events        <-chan client.Event
	snap          Snapshot
	pendingRooms  *client.RoomsUpdated
	roomsTimer    *time.Timer
	pendingStates map[string]protocol.RoomState
	statesTimer   *time.Timer
	subs          map[int]chan Snapshot
	nextSub       int
}

// New subscribes to the transport's events and starts the store loop.
// Release with Dispose; nothing here is package-global, so tests get full
// isolation.
func New(cfg Config, tr Transport, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	events, unsub := tr.Subscribe()
	s := &Store{
		cfg:           cfg,
		tr:            tr,
		log:           log,
		inbox:         make(chan storeMsg, 64),
		ctx:           ctx,
		cancel:        cancel,
		unsub:         unsub,
		events:        events,
		snap:          Snapshot{Status: client.StatusDisconnected},
		pendingStates: make(map[string]protocol.RoomState),
		subs:          make(map[int]chan Snapshot),
	}
	go s.loop()
	return s
}

// Dispose detaches from the transport and stops the loop. Subscriber
// channels are closed; no listeners are left behind.
func (s *Store) Dispose() {
	s.unsub()
	s.cancel()
}

func (s *Store) post(m storeMsg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case ev, ok := <-s.events:
			if !ok {
				s.events = nil // transport closed; actions will surface errors
				continue
			}
			s.handleEvent(ev)

		case m := <-s.inbox:
			s.handleMsg(m)
		}
	}
}

func (s *Store) shutdown() {
	if s.roomsTimer != nil {
		s.roomsTimer.Stop()
	}
	if s.statesTimer != nil {
		s.statesTimer.Stop()
	}
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Store) handleEvent(ev client.Event) {
	switch e := ev.(type) {
	case client.StatusChanged:
		s.snap.Status = e.New
		s.publish()

	case client.Connected:
		s.snap.LastError = ""
		s.publish()

	case client.Disconnected:
		// Status transition already published via StatusChanged.

	case client.RoomsUpdated:
		// Trailing-edge debounce: bursts collapse into one apply carrying
		// the last event's data.
		update := e
		s.pendingRooms = &update
		if s.roomsTimer != nil {
			s.roomsTimer.Stop()
		}
		s.roomsTimer = time.AfterFunc(s.cfg.DebounceRooms, func() { s.post(flushRooms{}) })

	case client.RoomStateChanged:
		s.pendingStates[e.RoomID] = e.NewState
		if s.statesTimer == nil {
			s.statesTimer = time.AfterFunc(s.cfg.BatchStateChanges, func() { s.post(flushStates{}) })
		}

	case client.RoomDisposed:
		// A disposed room disappears immediately rather than waiting for
		// the next list broadcast.
		kept := s.snap.Rooms[:0:0]
		for _, r := range s.snap.Rooms {
			if r.RoomID != e.RoomID {
				kept = append(kept, r)
			}
		}
		s.snap.Rooms = kept
		s.snap.Stats = stats.Calculate(kept)
		delete(s.pendingStates, e.RoomID)
		s.publish()

	case client.RoomAlternativesSuggested:
		s.snap.Alternatives = e.Alternatives
		s.snap.ShowJoinModal = true
		s.publish()

	case client.ConnFailure:
		s.snap.LastError = e.Err.Message
		if s.snap.LastError == "" {
			s.snap.LastError = e.Err.Error()
		}
		s.publish()
	}
}

func (s *Store) handleMsg(m storeMsg) {
	switch msg := m.(type) {
	case flushRooms:
		s.roomsTimer = nil
		if s.pendingRooms == nil {
			return
		}
		s.snap.Rooms = s.pendingRooms.Rooms
		s.snap.Stats = s.pendingRooms.Stats
		s.pendingRooms = nil
		s.publish()

	case flushStates:
		s.statesTimer = nil
		if len(s.pendingStates) == 0 {
			return
		}
		for i := range s.snap.Rooms {
			if st, ok := s.pendingStates[s.snap.Rooms[i].RoomID]; ok {
				s.snap.Rooms[i].State = st
			}
		}
		s.pendingStates = make(map[string]protocol.RoomState)
		s.snap.Stats = stats.Calculate(s.snap.Rooms)
		s.publish()

	case actionStart:
		if msg.creating {
			s.snap.CreatingRoom = true
		}
		if msg.joining != "" {
			s.snap.JoiningRoomID = msg.joining
		}
		s.snap.LastError = ""
		s.publish()

	case actionEnd:
		if msg.creating {
			s.snap.CreatingRoom = false
		}
		if msg.joining != "" && s.snap.JoiningRoomID == msg.joining {
			s.snap.JoiningRoomID = ""
		}
		if msg.err != nil {
			s.applyError(msg.err)
		}
		s.publish()

	case snapshotReq:
		msg.reply <- s.cloneSnap()

	case selectGame:
		s.snap.SelectedGame = msg.gameID
		s.publish()

	case setModal:
		if msg.create {
			s.snap.ShowCreateModal = msg.visible
		} else {
			s.snap.ShowJoinModal = msg.visible
			if !msg.visible {
				s.snap.Alternatives = nil
			}
		}
		s.publish()

	case clearError:
		s.snap.LastError = ""
		s.publish()

	case subscribeReq:
		id := s.nextSub
		s.nextSub++
		ch := make(chan Snapshot, 16)
		s.subs[id] = ch
		msg.reply <- subHandle{id: id, ch: ch}

	case unsubscribeReq:
		if ch, ok := s.subs[msg.id]; ok {
			delete(s.subs, msg.id)
			close(ch)
		}
	}
}

// applyError maps any failure into the single user-facing error field. Only
// the most recent error is kept. Join failures additionally populate the
// alternatives list so the UI can offer a different room.
func (s *Store) applyError(err error) {
	var je *protocol.JoinError
	if errors.As(err, &je) {
		s.snap.LastError = je.UserMessage()
		if len(je.Alternatives) > 0 {
			s.snap.Alternatives = je.Alternatives
			s.snap.ShowJoinModal = true
		}
		return
	}
	var ce *protocol.ConnError
	if errors.As(err, &ce) && ce.Message != "" {
		s.snap.LastError = ce.Message
		return
	}
	s.snap.LastError = err.Error()
}

func (s *Store) publish() {
	s.snap.Version++
	snap := s.cloneSnap()
	for id, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			s.log.Warn("store subscriber too slow, dropping snapshot", zap.Int("subscriber", id))
		}
	}
}

func (s *Store) cloneSnap() Snapshot {
	out := s.snap
	out.Rooms = append([]protocol.ActiveRoom(nil), s.snap.Rooms...)
	out.Alternatives = append([]protocol.RoomAlternative(nil), s.snap.Alternatives...)
	if s.snap.Stats.RoomsByState != nil {
		hist := make(map[protocol.RoomState]int, len(s.snap.Stats.RoomsByState))
		for k, v := range s.snap.Stats.RoomsByState {
			hist[k] = v
		}
		out.Stats.RoomsByState = hist
	}
	return out
}

// ---- read side ----

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.inbox <- snapshotReq{reply: reply}:
	case <-s.ctx.Done():
		return Snapshot{Status: client.StatusDisconnected}
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.ctx.Done():
		return Snapshot{Status: client.StatusDisconnected}
	}
}

// Subscribe returns a stream of snapshots, one per applied update, plus an
// unsubscribe func.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	reply := make(chan subHandle, 1)
	select {
	case s.inbox <- subscribeReq{reply: reply}:
	case <-s.ctx.Done():
		ch := make(chan Snapshot)
		close(ch)
		return ch, func() {}
	}
	select {
	case h := <-reply:
		return h.ch, func() {
			select {
			case s.inbox <- unsubscribeReq{id: h.id}:
			case <-s.ctx.Done():
			}
		}
	case <-s.ctx.Done():
		ch := make(chan Snapshot)
		close(ch)
		return ch, func() {}
	}
}

// ---- actions ----

// ConnectToLobby connects the transport, recording any failure as the
// user-facing error.
func (s *Store) ConnectToLobby(ctx context.Context) error {
	err := s.tr.Connect(ctx)
	if err != nil {
		s.post(actionEnd{err: err})
	}
	return err
}

// ForceReconnect restarts the connection even when the transport has given
// up after exhausting its reconnect attempts.
func (s *Store) ForceReconnect(ctx context.Context) error {
	err := s.tr.ForceReconnect(ctx)
	if err != nil {
		s.post(actionEnd{err: err})
	}
	return err
}

// DisconnectFromLobby tears the connection down.
func (s *Store) DisconnectFromLobby() { s.tr.Disconnect() }

// RefreshRooms requests a fresh room list for the selected game. The
// resulting rooms_updated flows back through the event stream and the
// debounced apply path.
func (s *Store) RefreshRooms(ctx context.Context) error {
	game := s.Snapshot().SelectedGame
	_, err := s.tr.ActiveRooms(ctx, game)
	if err != nil {
		s.post(actionEnd{err: err})
	}
	return err
}

// CreateRoom creates a room, holding the CreatingRoom flag for the duration.
func (s *Store) CreateRoom(ctx context.Context, gameID string, opts client.CreateRoomOptions) (client.CreatedRoom, error) {
	s.post(actionStart{creating: true})
	created, err := s.tr.CreateRoom(ctx, gameID, opts)
	s.post(actionEnd{creating: true, err: err})
	return created, err
}

// JoinRoom joins by id, pre-validating against the store's current room
// snapshot so obviously doomed joins fail without a network call.
func (s *Store) JoinRoom(ctx context.Context, roomID string) error {
	known := s.Snapshot().Rooms
	s.post(actionStart{joining: roomID})
	err := s.tr.JoinRoom(ctx, roomID, known)
	s.post(actionEnd{joining: roomID, err: err})
	return err
}

// JoinByCode joins a private room by its share code.
func (s *Store) JoinByCode(ctx context.Context, code string) (string, error) {
	s.post(actionStart{joining: code})
	roomID, err := s.tr.JoinByCode(ctx, code)
	s.post(actionEnd{joining: code, err: err})
	return roomID, err
}

// QuickMatch places the player in any open room for the game.
func (s *Store) QuickMatch(ctx context.Context, gameID string) (string, error) {
	s.post(actionStart{joining: "quick:" + gameID})
	roomID, err := s.tr.QuickMatch(ctx, gameID)
	s.post(actionEnd{joining: "quick:" + gameID, err: err})
	return roomID, err
}

// SelectGame sets the game filter used by RefreshRooms.
func (s *Store) SelectGame(gameID string) { s.post(selectGame{gameID: gameID}) }

// SetCreateModal toggles the create-room modal flag.
func (s *Store) SetCreateModal(visible bool) { s.post(setModal{create: true, visible: visible}) }

// SetJoinModal toggles the join/alternatives modal; hiding it clears the
// alternatives list.
func (s *Store) SetJoinModal(visible bool) { s.post(setModal{visible: visible}) }

// ClearError wipes the user-facing error field.
func (s *Store) ClearError() { s.post(clearError{}) }
