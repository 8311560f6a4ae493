// Package lobbytest provides an in-process fake lobby service for tests:
// a real websocket endpoint speaking the lobby protocol with scriptable
// rooms and failure injection. It is a test double, not a product server.
package lobbytest

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/miniplay/lobby-client/internal/protocol"
)

type scriptedError struct {
	code    protocol.ErrorCode
	message string
}

type clientConn struct {
	out chan []byte
}

// Server is a fake lobby reachable over ws. Safe for concurrent use.
type Server struct {
	httpSrv *httptest.Server

	mu          sync.Mutex
	rooms       []protocol.ActiveRoom
	conns       map[*clientConn]struct{}
	failNext    map[string]scriptedError // wire type -> one-shot error reply
	swallowNext map[string]bool          // wire type -> drop the next request silently
	echoCorr    bool
	refusing    bool
}

func New() *Server {
	s := &Server{
		conns:       make(map[*clientConn]struct{}),
		failNext:    make(map[string]scriptedError),
		swallowNext: make(map[string]bool),
		echoCorr:    true,
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/lobby", s.handleLobby)
	s.httpSrv = httptest.NewServer(r)
	return s
}

func (s *Server) Close() { s.httpSrv.Close() }

// URL returns the ws:// base a client should dial.
func (s *Server) URL() string {
	return strings.Replace(s.httpSrv.URL, "http://", "ws://", 1)
}

// HealthURL returns the liveness endpoint for offline-handler tests.
func (s *Server) HealthURL() string { return s.httpSrv.URL + "/healthz" }

// SetRooms replaces the room list without broadcasting.
func (s *Server) SetRooms(rooms []protocol.ActiveRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = rooms
}

// PushRoomsUpdated replaces the room list and broadcasts rooms_updated.
func (s *Server) PushRoomsUpdated(rooms []protocol.ActiveRoom) {
	s.mu.Lock()
	s.rooms = rooms
	frame := s.roomsFrameLocked(protocol.TypeRoomsUpdated)
	s.broadcastLocked(frame)
	s.mu.Unlock()
}

// PushStateChange broadcasts room_state_changed and tracks it in the list.
func (s *Server) PushStateChange(roomID string, oldState, newState protocol.RoomState) {
	s.mu.Lock()
	for i := range s.rooms {
		if s.rooms[i].RoomID == roomID {
			s.rooms[i].State = newState
		}
	}
	frame, _ := json.Marshal(map[string]any{
		"type":     protocol.TypeRoomStateChanged,
		"roomId":   roomID,
		"oldState": oldState,
		"newState": newState,
	})
	s.broadcastLocked(frame)
	s.mu.Unlock()
}

// PushDisposed broadcasts room_disposed and drops the room.
func (s *Server) PushDisposed(roomID, reason string) {
	s.mu.Lock()
	kept := s.rooms[:0:0]
	for _, r := range s.rooms {
		if r.RoomID != roomID {
			kept = append(kept, r)
		}
	}
	s.rooms = kept
	frame, _ := json.Marshal(map[string]any{
		"type":   protocol.TypeRoomDisposed,
		"roomId": roomID,
		"reason": reason,
	})
	s.broadcastLocked(frame)
	s.mu.Unlock()
}

// FailNext scripts a one-shot error reply for the next request of wireType.
func (s *Server) FailNext(wireType string, code protocol.ErrorCode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[wireType] = scriptedError{code: code, message: message}
}

// SwallowNext makes the server silently drop the next request of wireType,
// so client-side timeouts can be exercised.
func (s *Server) SwallowNext(wireType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swallowNext[wireType] = true
}

// SetEchoCorrelation toggles echoing of client correlation ids, so tests can
// exercise the payload-identity fallback path.
func (s *Server) SetEchoCorrelation(echo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.echoCorr = echo
}

// Refuse makes the ws endpoint reject handshakes, simulating an unreachable
// lobby while the HTTP listener stays up.
func (s *Server) Refuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refusing = refuse
}

// DropConnections force-closes every live lobby connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		close(c.out)
		delete(s.conns, c)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refusing := s.refusing
	s.mu.Unlock()
	if refusing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refusing := s.refusing
	s.mu.Unlock()
	if refusing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "bye")

	conn := &clientConn{out: make(chan []byte, 32)}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	conn.out <- s.roomsFrameLocked(protocol.TypeLobbyJoined)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if _, ok := s.conns[conn]; ok {
			delete(s.conns, conn)
			close(conn.out)
		}
		s.mu.Unlock()
	}()

	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for frame := range conn.out {
			ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
			_ = ws.Write(ctx, websocket.MessageText, frame)
			cancel()
		}
		ws.Close(websocket.StatusGoingAway, "dropped")
	}()

	for {
		_, data, err := ws.Read(r.Context())
		if err != nil {
			return
		}
		var cm protocol.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			continue
		}
		s.handleRequest(conn, cm)
	}
}

func (s *Server) handleRequest(conn *clientConn, cm protocol.ClientMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	corr := ""
	if s.echoCorr {
		corr = cm.CorrelationID
	}

	if s.swallowNext[cm.Type] {
		delete(s.swallowNext, cm.Type)
		return
	}

	if scripted, ok := s.failNext[cm.Type]; ok {
		delete(s.failNext, cm.Type)
		s.sendLocked(conn, errorFrame(scripted.code, scripted.message, corr))
		return
	}

	switch cm.Type {
	case protocol.TypeRefreshRooms:
		s.sendLocked(conn, s.roomsFrameLocked(protocol.TypeRoomsUpdated))

	case protocol.TypeCreateRoom:
		room := protocol.ActiveRoom{
			RoomID:      uuid.NewString(),
			RoomCode:    generateCode(),
			GameID:      cm.GameID,
			PlayerCount: 1,
			MaxPlayers:  8,
			State:       protocol.StateLobby,
			IsPrivate:   cm.IsPrivate,
			CreatedAt:   time.Now().UnixMilli(),
		}
		s.rooms = append(s.rooms, room)
		s.sendLocked(conn, mustMarshal(map[string]any{
			"type":          protocol.TypeRoomCreated,
			"roomId":        room.RoomID,
			"roomCode":      room.RoomCode,
			"correlationId": corr,
		}))
		s.broadcastLocked(s.roomsFrameLocked(protocol.TypeRoomsUpdated))

	case protocol.TypeJoinRoom:
		room := s.findLocked(cm.RoomID)
		switch {
		case room == nil:
			s.sendLocked(conn, errorFrame(protocol.CodeRoomNotFound, "no such room", corr))
		case room.Full():
			s.sendLocked(conn, errorFrame(protocol.CodeRoomFull, "room is full", corr))
		case room.State != protocol.StateLobby:
			s.sendLocked(conn, errorFrame(protocol.CodeInvalidRoomState, "room already started", corr))
		default:
			room.PlayerCount++
			s.sendLocked(conn, mustMarshal(map[string]any{
				"type":          protocol.TypeRoomJoined,
				"roomId":        room.RoomID,
				"correlationId": corr,
			}))
			s.broadcastLocked(s.roomsFrameLocked(protocol.TypeRoomsUpdated))
		}

	case protocol.TypeJoinPrivateRoom:
		var room *protocol.ActiveRoom
		for i := range s.rooms {
			if s.rooms[i].RoomCode == cm.RoomCode {
				room = &s.rooms[i]
				break
			}
		}
		switch {
		case room == nil:
			s.sendLocked(conn, errorFrame(protocol.CodeInvalidRoomCode, "no room with that code", corr))
		case room.Full():
			s.sendLocked(conn, errorFrame(protocol.CodeRoomFull, "room is full", corr))
		default:
			room.PlayerCount++
			s.sendLocked(conn, mustMarshal(map[string]any{
				"type":          protocol.TypeRoomJoined,
				"roomId":        room.RoomID,
				"correlationId": corr,
			}))
		}

	case protocol.TypeQuickMatch:
		var room *protocol.ActiveRoom
		for i := range s.rooms {
			r := &s.rooms[i]
			if r.GameID == cm.GameID && r.State == protocol.StateLobby && !r.IsPrivate && !r.Full() {
				room = r
				break
			}
		}
		if room == nil {
			s.rooms = append(s.rooms, protocol.ActiveRoom{
				RoomID:      uuid.NewString(),
				RoomCode:    generateCode(),
				GameID:      cm.GameID,
				PlayerCount: 0,
				MaxPlayers:  8,
				State:       protocol.StateLobby,
				CreatedAt:   time.Now().UnixMilli(),
			})
			room = &s.rooms[len(s.rooms)-1]
		}
		room.PlayerCount++
		s.sendLocked(conn, mustMarshal(map[string]any{
			"type":          protocol.TypeRoomJoined,
			"roomId":        room.RoomID,
			"isQuickMatch":  true,
			"correlationId": corr,
		}))
	}
}

func (s *Server) findLocked(roomID string) *protocol.ActiveRoom {
	for i := range s.rooms {
		if s.rooms[i].RoomID == roomID {
			return &s.rooms[i]
		}
	}
	return nil
}

func (s *Server) roomsFrameLocked(wireType string) []byte {
	rooms := s.rooms
	if rooms == nil {
		rooms = []protocol.ActiveRoom{}
	}
	return mustMarshal(map[string]any{
		"type":        wireType,
		"activeRooms": rooms,
	})
}

func (s *Server) sendLocked(conn *clientConn, frame []byte) {
	select {
	case conn.out <- frame:
	default:
	}
}

func (s *Server) broadcastLocked(frame []byte) {
	for c := range s.conns {
		select {
		case c.out <- frame:
		default:
		}
	}
}

func errorFrame(code protocol.ErrorCode, message, corr string) []byte {
	return mustMarshal(map[string]any{
		"type":          protocol.TypeError,
		"code":          code,
		"message":       message,
		"correlationId": corr,
	})
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func generateCode() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			panic(err)
		}
		code[i] = charset[num.Int64()]
	}
	return string(code)
}
