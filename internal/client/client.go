// Package client implements the room transport client: the single point of
// contact with the lobby wire protocol. It owns the websocket connection,
// converts wire frames into typed events, and exposes room operations as
// blocking calls correlated to asynchronous server replies.
//
// All connection and correlation state is owned by one goroutine fed through
// an inbox channel; public methods are thin round-trips into that loop, so
// there is exactly one writer and no locks.
package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/miniplay/lobby-client/internal/protocol"
	"github.com/miniplay/lobby-client/internal/retry"
	"github.com/miniplay/lobby-client/internal/stats"
)

var (
	ErrNotConnected = errors.New("not connected to lobby")
	ErrTimeout      = errors.New("operation timed out")
	ErrClosed       = errors.New("client closed")
)

type opKind int

const (
	opRefresh opKind = iota
	opCreate
	opJoin
	opJoinByCode
	opQuick
)

type opResult struct {
	rooms    []protocol.ActiveRoom
	roomID   string
	roomCode string
	quick    bool
	err      error
}

// pendingOp is one in-flight request awaiting its correlated reply. The id
// doubles as the wire correlationId; servers that do not echo it are matched
// by kind and payload identity instead.
type pendingOp struct {
	id      string
	kind    opKind
	roomID  string
	gameID  string
	timeout time.Duration
	wire    protocol.ClientMessage
	done    chan opResult // buffered 1; resolved at most once
	timer   *time.Timer
}

type clientMsg interface{ isClientMsg() }

type connectReq struct {
	done  chan error
	force bool // ForceReconnect: reset the attempt counter and redial
}

type disconnectReq struct{ done chan struct{} }

type statusReq struct{ reply chan Status }

type opSubmit struct{ op *pendingOp }

type opTimeout struct{ id string }

type dialResult struct {
	conn *websocket.Conn
	err  error
}

type serverFrame struct {
	conn *websocket.Conn
	msg  protocol.ServerMessage
}

type connLost struct {
	conn *websocket.Conn
	err  error
}

type reconnectTick struct{}

type subHandle struct {
	id int
	ch chan Event
}

type subscribeReq struct{ reply chan subHandle }

type unsubscribeReq struct{ id int }

func (connectReq) isClientMsg()     {}
func (disconnectReq) isClientMsg()  {}
func (statusReq) isClientMsg()      {}
func (opSubmit) isClientMsg()       {}
func (opTimeout) isClientMsg()      {}
func (dialResult) isClientMsg()     {}
func (serverFrame) isClientMsg()    {}
func (connLost) isClientMsg()       {}
func (reconnectTick) isClientMsg()  {}
func (subscribeReq) isClientMsg()   {}
func (unsubscribeReq) isClientMsg() {}

// Client maintains at most one lobby connection at a time. Construct with
// New and release with Close; there is no package-level instance.
type Client struct {
	cfg    Config
	log    *zap.Logger
	inbox  chan clientMsg
	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the run loop.
	status            Status
	conn              *websocket.Conn
	connCancel        context.CancelFunc
	dialing           bool
	connectWaiters    []chan error
	pending           map[string]*pendingOp
	order             []string // pending ids in arrival order, for fallback matching
	reconnectAttempts int
	reconnectTimer    *time.Timer
	subs              map[int]chan Event
	nextSub           int
	lastRooms         []protocol.ActiveRoom
}

func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		log:     log,
		inbox:   make(chan clientMsg, 64),
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusDisconnected,
		pending: make(map[string]*pendingOp),
		subs:    make(map[int]chan Event),
	}
	go c.run()
	return c
}

// Close tears the client down: drops the connection, fails every pending
// operation with ErrClosed, and closes all subscriber channels.
func (c *Client) Close() { c.cancel() }

func (c *Client) post(m clientMsg) {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}

func (c *Client) run() {
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case connectReq:
				c.handleConnect(msg)
			case disconnectReq:
				c.handleDisconnect()
				msg.done <- struct{}{}
			case statusReq:
				msg.reply <- c.status
			case opSubmit:
				c.handleSubmit(msg.op)
			case opTimeout:
				c.handleTimeout(msg.id)
			case dialResult:
				c.handleDialResult(msg)
			case serverFrame:
				if msg.conn == c.conn {
					c.handleServer(msg.msg)
				}
			case connLost:
				c.handleConnLost(msg)
			case reconnectTick:
				if c.status == StatusError && !c.dialing {
					c.setStatus(StatusConnecting)
					c.startDial()
				}
			case subscribeReq:
				id := c.nextSub
				c.nextSub++
				ch := make(chan Event, 64)
				c.subs[id] = ch
				msg.reply <- subHandle{id: id, ch: ch}
			case unsubscribeReq:
				if ch, ok := c.subs[msg.id]; ok {
					delete(c.subs, msg.id)
					close(ch)
				}
			}
		}
	}
}

func (c *Client) shutdown() {
	c.stopReconnectTimer()
	c.closeConn()
	c.failPending(ErrClosed)
	for _, done := range c.connectWaiters {
		done <- ErrClosed
	}
	c.connectWaiters = nil
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.status = StatusDisconnected
}

// emit fans an event out to every subscriber. Sends never block the loop; a
// subscriber whose buffer is full loses the event, mirroring how the rest of
// the protocol treats slow consumers.
func (c *Client) emit(ev Event) {
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.log.Warn("subscriber too slow, dropping event", zap.Int("subscriber", id))
		}
	}
}

func (c *Client) setStatus(s Status) {
	if c.status == s {
		return
	}
	old := c.status
	c.status = s
	c.log.Debug("connection status changed",
		zap.String("old", string(old)), zap.String("new", string(s)))
	c.emit(StatusChanged{Old: old, New: s})
}

// ---- connection lifecycle ----

func (c *Client) handleConnect(req connectReq) {
	if req.force {
		c.stopReconnectTimer()
		c.reconnectAttempts = 0
		c.closeConn()
		c.failPending(&protocol.ConnError{Code: protocol.CodeConnectionFailed, Message: "reconnecting"})
		c.setStatus(StatusConnecting)
		c.connectWaiters = append(c.connectWaiters, req.done)
		if !c.dialing {
			c.startDial()
		}
		return
	}

	switch c.status {
	case StatusConnected:
		req.done <- nil
	case StatusConnecting:
		c.connectWaiters = append(c.connectWaiters, req.done)
	default: // disconnected or error
		c.stopReconnectTimer()
		c.setStatus(StatusConnecting)
		c.connectWaiters = append(c.connectWaiters, req.done)
		if !c.dialing {
			c.startDial()
		}
	}
}

func (c *Client) handleDisconnect() {
	c.stopReconnectTimer()
	c.reconnectAttempts = 0
	c.failPending(ErrNotConnected)
	c.closeConn()
	c.setStatus(StatusDisconnected)
	c.emit(Disconnected{Reason: "client requested"})
}

func (c *Client) startDial() {
	c.dialing = true
	url := c.lobbyURL()
	go func() {
		res := retry.Do(c.ctx, c.cfg.ConnectRetry, func(ctx context.Context) (*websocket.Conn, error) {
			dctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
			defer cancel()
			conn, _, err := websocket.Dial(dctx, url, nil)
			return conn, err
		})
		if res.Success {
			c.post(dialResult{conn: res.Value})
		} else {
			c.post(dialResult{err: res.Err})
		}
	}()
}

func (c *Client) handleDialResult(res dialResult) {
	c.dialing = false

	if c.status == StatusDisconnected {
		// Disconnect won the race; discard whatever the dial produced.
		if res.conn != nil {
			go res.conn.Close(websocket.StatusNormalClosure, "bye")
		}
		return
	}

	if res.err != nil {
		c.log.Warn("lobby connection failed", zap.Error(res.err))
		c.setStatus(StatusError)
		c.notifyConnectWaiters(res.err)
		c.emit(ConnFailure{Err: &protocol.ConnError{
			Code:    protocol.CodeConnectionFailed,
			Message: "failed to connect to lobby",
			Cause:   res.err,
		}})
		c.scheduleReconnect()
		return
	}

	c.conn = res.conn
	connCtx, cancel := context.WithCancel(c.ctx)
	c.connCancel = cancel
	go c.readLoop(connCtx, res.conn)

	c.reconnectAttempts = 0
	c.setStatus(StatusConnected)
	c.notifyConnectWaiters(nil)
	c.emit(Connected{})
	c.log.Info("connected to lobby", zap.String("url", c.lobbyURL()))
}

func (c *Client) handleConnLost(msg connLost) {
	if msg.conn != c.conn {
		return // stale notification from a connection we already replaced
	}
	c.closeConn()
	c.failPending(&protocol.ConnError{Code: protocol.CodeConnectionFailed, Message: "connection lost", Cause: msg.err})

	if c.status == StatusDisconnected {
		return
	}
	c.log.Warn("lobby connection lost", zap.Error(msg.err))
	c.setStatus(StatusError)
	c.emit(ConnFailure{Err: &protocol.ConnError{
		Code:    protocol.CodeConnectionFailed,
		Message: "lobby connection lost",
		Cause:   msg.err,
	}})
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if c.reconnectAttempts >= c.cfg.MaxReconnectAttempts {
		c.log.Error("reconnect attempts exhausted",
			zap.Int("attempts", c.reconnectAttempts))
		c.emit(ConnFailure{Err: &protocol.ConnError{
			Code:    protocol.CodeMaxReconnectAttempts,
			Message: "gave up reconnecting; call ForceReconnect to try again",
		}})
		return
	}

	delay := retry.Delay(retry.Config{
		BaseDelay: c.cfg.ReconnectBase,
		MaxDelay:  c.cfg.ReconnectMax,
	}, c.reconnectAttempts)
	c.reconnectAttempts++
	c.log.Info("scheduling reconnect",
		zap.Duration("delay", delay), zap.Int("attempt", c.reconnectAttempts))
	c.reconnectTimer = time.AfterFunc(delay, func() { c.post(reconnectTick{}) })
}

func (c *Client) stopReconnectTimer() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) notifyConnectWaiters(err error) {
	for _, done := range c.connectWaiters {
		done <- err
	}
	c.connectWaiters = nil
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	c.connCancel()
	conn := c.conn
	c.conn = nil
	go conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) lobbyURL() string {
	return strings.TrimRight(c.cfg.URL, "/") + "/lobby"
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.post(connLost{conn: conn, err: err})
			return
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			// Fail closed: unknown and malformed frames never reach handlers.
			c.log.Warn("dropping bad frame", zap.Error(err))
			continue
		}
		c.post(serverFrame{conn: conn, msg: msg})
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, data []byte) {
	ctx, cancel := context.WithTimeout(c.ctx, 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.post(connLost{conn: conn, err: err})
	}
}

// ---- pending-operation bookkeeping ----

func (c *Client) handleSubmit(op *pendingOp) {
	if c.status != StatusConnected || c.conn == nil {
		op.done <- opResult{err: ErrNotConnected}
		return
	}

	data, err := encodeWire(op.wire)
	if err != nil {
		op.done <- opResult{err: err}
		return
	}

	c.pending[op.id] = op
	c.order = append(c.order, op.id)
	op.timer = time.AfterFunc(op.timeout, func() { c.post(opTimeout{id: op.id}) })
	go c.writeFrame(c.conn, data)
}

func (c *Client) handleTimeout(id string) {
	op, ok := c.pending[id]
	if !ok {
		return
	}
	c.resolve(op, opResult{err: timeoutError(op.kind)})
}

func timeoutError(kind opKind) error {
	switch kind {
	case opJoin, opJoinByCode:
		return &protocol.JoinError{
			Code:    protocol.CodeConnectionFailed,
			Message: "timed out waiting for the lobby",
		}
	default:
		return &protocol.ConnError{
			Code:    protocol.CodeConnectionFailed,
			Message: "timed out waiting for the lobby",
			Cause:   ErrTimeout,
		}
	}
}

func (c *Client) resolve(op *pendingOp, res opResult) {
	if op.timer != nil {
		op.timer.Stop()
	}
	delete(c.pending, op.id)
	for i, id := range c.order {
		if id == op.id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	op.done <- res
}

func (c *Client) failPending(err error) {
	for _, id := range c.order {
		if op, ok := c.pending[id]; ok {
			if op.timer != nil {
				op.timer.Stop()
			}
			delete(c.pending, id)
			op.done <- opResult{err: err}
		}
	}
	c.order = nil
}

// oldestPending returns the earliest-submitted pending op of any given kind.
func (c *Client) oldestPending(kinds ...opKind) *pendingOp {
	for _, id := range c.order {
		op, ok := c.pending[id]
		if !ok {
			continue
		}
		for _, k := range kinds {
			if op.kind == k {
				return op
			}
		}
	}
	return nil
}

func (c *Client) pendingJoinFor(roomID string) *pendingOp {
	if roomID == "" {
		return nil
	}
	for _, id := range c.order {
		if op, ok := c.pending[id]; ok && op.kind == opJoin && op.roomID == roomID {
			return op
		}
	}
	return nil
}

// ---- incoming frames ----

func (c *Client) handleServer(m protocol.ServerMessage) {
	switch msg := m.(type) {
	case protocol.LobbyJoined:
		c.lastRooms = msg.ActiveRooms
		c.emit(RoomsUpdated{Rooms: msg.ActiveRooms, Stats: stats.Calculate(msg.ActiveRooms)})

	case protocol.RoomsUpdated:
		c.lastRooms = msg.ActiveRooms
		c.emit(RoomsUpdated{Rooms: msg.ActiveRooms, Stats: stats.Calculate(msg.ActiveRooms)})
		// A rooms snapshot answers every pending refresh at once.
		for {
			op := c.oldestPending(opRefresh)
			if op == nil {
				break
			}
			c.resolve(op, opResult{rooms: filterRooms(msg.ActiveRooms, op.gameID)})
		}

	case protocol.RoomCreated:
		c.emit(RoomCreated{RoomID: msg.RoomID, RoomCode: msg.RoomCode})
		op := c.pendingByCorr(msg.CorrelationID, opCreate)
		if op == nil {
			op = c.oldestPending(opCreate)
		}
		if op != nil {
			c.resolve(op, opResult{roomID: msg.RoomID, roomCode: msg.RoomCode})
		}

	case protocol.RoomJoined:
		c.emit(RoomJoined{RoomID: msg.RoomID, IsQuickMatch: msg.IsQuickMatch})
		op := c.pendingByCorr(msg.CorrelationID, opJoin, opJoinByCode, opQuick)
		if op == nil {
			// Fallbacks for servers that do not echo correlation ids. A
			// quick-match op only ever accepts a frame flagged as such, so a
			// coincidental join confirmation cannot satisfy it.
			if msg.IsQuickMatch {
				op = c.oldestPending(opQuick)
			} else if p := c.pendingJoinFor(msg.RoomID); p != nil {
				op = p
			} else {
				op = c.oldestPending(opJoinByCode)
			}
		}
		if op != nil {
			c.resolve(op, opResult{roomID: msg.RoomID, quick: msg.IsQuickMatch})
		}

	case protocol.RoomStateChanged:
		for i := range c.lastRooms {
			if c.lastRooms[i].RoomID == msg.RoomID {
				c.lastRooms[i].State = msg.NewState
				break
			}
		}
		c.emit(RoomStateChanged{RoomID: msg.RoomID, OldState: msg.OldState, NewState: msg.NewState})

	case protocol.RoomDisposed:
		kept := c.lastRooms[:0:0]
		for _, r := range c.lastRooms {
			if r.RoomID != msg.RoomID {
				kept = append(kept, r)
			}
		}
		c.lastRooms = kept
		c.emit(RoomDisposed{RoomID: msg.RoomID, Reason: msg.Reason})

	case protocol.RoomAlternatives:
		c.emit(RoomAlternativesSuggested{RequestedRoomID: msg.RequestedRoomID, Alternatives: msg.Alternatives})
		if op := c.pendingJoinFor(msg.RequestedRoomID); op != nil {
			c.resolve(op, opResult{err: &protocol.JoinError{
				Code:         protocol.CodeRoomFull,
				Message:      "room is full",
				Alternatives: msg.Alternatives,
			}})
		}

	case protocol.ErrorMessage:
		op := c.pendingByCorr(msg.CorrelationID, opCreate, opJoin, opJoinByCode, opQuick, opRefresh)
		if op == nil {
			op = c.oldestPending(opCreate, opJoin, opJoinByCode, opQuick)
		}
		if op == nil {
			c.emit(ConnFailure{Err: &protocol.ConnError{Code: msg.Code, Message: msg.Message}})
			return
		}
		c.resolve(op, opResult{err: opError(op.kind, msg)})
	}
}

func (c *Client) pendingByCorr(corr string, kinds ...opKind) *pendingOp {
	if corr == "" {
		return nil
	}
	op, ok := c.pending[corr]
	if !ok {
		return nil
	}
	for _, k := range kinds {
		if op.kind == k {
			return op
		}
	}
	return nil
}

func opError(kind opKind, msg protocol.ErrorMessage) error {
	switch kind {
	case opJoin, opJoinByCode, opQuick:
		return &protocol.JoinError{Code: msg.Code, Message: msg.Message}
	default:
		return &protocol.ConnError{Code: msg.Code, Message: msg.Message}
	}
}

func filterRooms(rooms []protocol.ActiveRoom, gameID string) []protocol.ActiveRoom {
	if gameID == "" {
		return rooms
	}
	out := make([]protocol.ActiveRoom, 0, len(rooms))
	for _, r := range rooms {
		if r.GameID == gameID {
			out = append(out, r)
		}
	}
	return out
}
