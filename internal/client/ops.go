package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/miniplay/lobby-client/internal/games"
	"github.com/miniplay/lobby-client/internal/match"
	"github.com/miniplay/lobby-client/internal/protocol"
	"github.com/miniplay/lobby-client/internal/retry"
)

// CreateRoomOptions configures a create_room request.
type CreateRoomOptions struct {
	IsPrivate bool
	Settings  map[string]any
}

// CreatedRoom is the result of a successful CreateRoom.
type CreatedRoom struct {
	RoomID   string
	RoomCode string
}

func encodeWire(m protocol.ClientMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Connect establishes the lobby connection. It is idempotent: a no-op when
// already connected, and it joins the in-flight attempt when already
// connecting. On failure the client transitions to error, schedules a
// background reconnect, and Connect returns the last dial error.
func (c *Client) Connect(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case c.inbox <- connectReq{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceReconnect resets the reconnect attempt counter and redials
// immediately, including after a terminal MAX_RECONNECT_ATTEMPTS failure.
func (c *Client) ForceReconnect(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case c.inbox <- connectReq{done: done, force: true}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect leaves the lobby, cancels any scheduled reconnect, and fails
// pending operations. Best effort; it always succeeds.
func (c *Client) Disconnect() {
	done := make(chan struct{}, 1)
	select {
	case c.inbox <- disconnectReq{done: done}:
	case <-c.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-c.ctx.Done():
	}
}

// Status reports the current connection status.
func (c *Client) Status() Status {
	reply := make(chan Status, 1)
	select {
	case c.inbox <- statusReq{reply: reply}:
	case <-c.ctx.Done():
		return StatusDisconnected
	}
	select {
	case s := <-reply:
		return s
	case <-c.ctx.Done():
		return StatusDisconnected
	}
}

func (c *Client) IsConnected() bool { return c.Status() == StatusConnected }

// Subscribe returns a channel of client events and an unsubscribe func.
// Events are dropped, not blocked on, if the subscriber falls more than a
// buffer behind.
func (c *Client) Subscribe() (<-chan Event, func()) {
	reply := make(chan subHandle, 1)
	select {
	case c.inbox <- subscribeReq{reply: reply}:
	case <-c.ctx.Done():
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	select {
	case h := <-reply:
		return h.ch, func() {
			select {
			case c.inbox <- unsubscribeReq{id: h.id}:
			case <-c.ctx.Done():
			}
		}
	case <-c.ctx.Done():
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
}

// roundTrip registers a pending operation and blocks until it resolves,
// times out, or ctx is cancelled. An abandoned ctx leaves the listener in
// place until its own timeout fires; that leak window is bounded and cheap.
func (c *Client) roundTrip(ctx context.Context, op *pendingOp) (opResult, error) {
	op.id = uuid.NewString()
	op.wire.CorrelationID = op.id
	op.done = make(chan opResult, 1)

	select {
	case c.inbox <- opSubmit{op: op}:
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	case <-c.ctx.Done():
		return opResult{}, ErrClosed
	}

	select {
	case res := <-op.done:
		return res, res.err
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	case <-c.ctx.Done():
		return opResult{}, ErrClosed
	}
}

// ActiveRooms requests a fresh room list and returns the rooms for gameID
// (all rooms when gameID is empty). Deliberately not retried: re-sending a
// refresh can mask staleness, and callers can simply call again.
func (c *Client) ActiveRooms(ctx context.Context, gameID string) ([]protocol.ActiveRoom, error) {
	res, err := c.roundTrip(ctx, &pendingOp{
		kind:    opRefresh,
		gameID:  gameID,
		timeout: c.cfg.QueryTimeout,
		wire:    protocol.ClientMessage{Type: protocol.TypeRefreshRooms},
	})
	if err != nil {
		return nil, err
	}
	return res.rooms, nil
}

// CreateRoom validates gameID and options against the game registry, then
// sends create_room, retrying transient failures. Validation failures and
// server-confirmed rejections are never retried.
func (c *Client) CreateRoom(ctx context.Context, gameID string, opts CreateRoomOptions) (CreatedRoom, error) {
	game, ok := games.Lookup(gameID)
	if !ok {
		return CreatedRoom{}, fmt.Errorf("unknown game %q", gameID)
	}
	if err := game.ValidateSettings(opts.Settings); err != nil {
		return CreatedRoom{}, err
	}

	res := retry.Do(ctx, c.cfg.OpRetry, func(ctx context.Context) (CreatedRoom, error) {
		r, err := c.roundTrip(ctx, &pendingOp{
			kind:    opCreate,
			gameID:  gameID,
			timeout: c.cfg.CreateTimeout,
			wire: protocol.ClientMessage{
				Type:      protocol.TypeCreateRoom,
				GameID:    gameID,
				IsPrivate: opts.IsPrivate,
				Settings:  opts.Settings,
			},
		})
		if err != nil {
			if isTransient(err) {
				return CreatedRoom{}, err
			}
			return CreatedRoom{}, retry.Permanent(err)
		}
		return CreatedRoom{RoomID: r.roomID, RoomCode: r.roomCode}, nil
	})
	if !res.Success {
		return CreatedRoom{}, res.Err
	}
	return res.Value, nil
}

// isTransient reports whether a failure is worth retrying: a timed-out or
// connection-scoped error, as opposed to a validation or room-state one.
func isTransient(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var ce *protocol.ConnError
	if errors.As(err, &ce) {
		return ce.Code == protocol.CodeConnectionFailed
	}
	return false
}

// JoinRoom joins a room by id. When knownRooms is non-nil the join is
// pre-validated against that snapshot: a missing, non-LOBBY, or full room
// fails fast without a network call, and the full-room failure carries
// ranked alternatives.
func (c *Client) JoinRoom(ctx context.Context, roomID string, knownRooms []protocol.ActiveRoom) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return &protocol.JoinError{Code: protocol.CodeRoomNotFound, Message: "missing room id"}
	}

	if knownRooms != nil {
		if err := prevalidateJoin(roomID, knownRooms); err != nil {
			return err
		}
	}

	_, err := c.roundTrip(ctx, &pendingOp{
		kind:    opJoin,
		roomID:  roomID,
		timeout: c.cfg.QueryTimeout,
		wire:    protocol.ClientMessage{Type: protocol.TypeJoinRoom, RoomID: roomID},
	})
	return err
}

func prevalidateJoin(roomID string, rooms []protocol.ActiveRoom) error {
	var target *protocol.ActiveRoom
	for i := range rooms {
		if rooms[i].RoomID == roomID {
			target = &rooms[i]
			break
		}
	}
	if target == nil {
		return &protocol.JoinError{Code: protocol.CodeRoomNotFound, Message: "room no longer exists"}
	}
	if target.State != protocol.StateLobby {
		return &protocol.JoinError{
			Code:    protocol.CodeInvalidRoomState,
			Message: fmt.Sprintf("room is %s, not accepting players", target.State),
		}
	}
	if target.Full() {
		return &protocol.JoinError{
			Code:         protocol.CodeRoomFull,
			Message:      "room is full",
			Alternatives: match.FindAlternatives(*target, rooms),
		}
	}
	return nil
}

// JoinByCode joins a private room by its 6-character share code. The code
// is normalized and validated locally; malformed codes never reach the wire.
// Returns the joined room id when the server includes one.
func (c *Client) JoinByCode(ctx context.Context, code string) (string, error) {
	normalized, err := protocol.NormalizeRoomCode(code)
	if err != nil {
		return "", &protocol.JoinError{Code: protocol.CodeInvalidRoomCode, Message: err.Error()}
	}

	res, err := c.roundTrip(ctx, &pendingOp{
		kind:    opJoinByCode,
		timeout: c.cfg.QueryTimeout,
		wire:    protocol.ClientMessage{Type: protocol.TypeJoinPrivateRoom, RoomCode: normalized},
	})
	if err != nil {
		return "", err
	}
	return res.roomID, nil
}

// QuickMatch asks the server to place the player in any suitable room for
// the game. It resolves only on a room_joined flagged as the quick-match
// result (or correlated by id), never on a coincidental join confirmation.
func (c *Client) QuickMatch(ctx context.Context, gameID string) (string, error) {
	if _, ok := games.Lookup(gameID); !ok {
		return "", fmt.Errorf("unknown game %q", gameID)
	}
	res, err := c.roundTrip(ctx, &pendingOp{
		kind:    opQuick,
		gameID:  gameID,
		timeout: c.cfg.CreateTimeout,
		wire:    protocol.ClientMessage{Type: protocol.TypeQuickMatch, GameID: gameID},
	})
	if err != nil {
		return "", err
	}
	return res.roomID, nil
}
