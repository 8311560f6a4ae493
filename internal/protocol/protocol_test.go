package protocol

import (
	"errors"
	"testing"
)

func TestNormalizeRoomCode(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "already normal", in: "AB12CD", want: "AB12CD"},
		{name: "lowercase is uppercased", in: "ab12cd", want: "AB12CD"},
		{name: "surrounding whitespace trimmed", in: "  AB12CD ", want: "AB12CD"},
		{name: "too short", in: "AB12C", wantErr: true},
		{name: "too long", in: "AB12CDE", wantErr: true},
		{name: "punctuation rejected", in: "AB-2CD", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "interior space rejected", in: "AB 2CD", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeRoomCode(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidRoomCode) {
					t.Fatalf("want ErrInvalidRoomCode, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeServerMessage(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, m ServerMessage)
	}{
		{
			name: "rooms_updated",
			raw:  `{"type":"rooms_updated","activeRooms":[{"roomId":"r1","roomCode":"AB12CD","gameId":"snake","playerCount":2,"maxPlayers":8,"state":"LOBBY","isPrivate":false,"createdAt":1700000000000}]}`,
			check: func(t *testing.T, m ServerMessage) {
				ru, ok := m.(RoomsUpdated)
				if !ok {
					t.Fatalf("want RoomsUpdated, got %T", m)
				}
				if len(ru.ActiveRooms) != 1 || ru.ActiveRooms[0].RoomID != "r1" {
					t.Fatalf("bad payload: %+v", ru)
				}
			},
		},
		{
			name: "room_joined quick match flag",
			raw:  `{"type":"room_joined","roomId":"r2","isQuickMatch":true}`,
			check: func(t *testing.T, m ServerMessage) {
				rj := m.(RoomJoined)
				if !rj.IsQuickMatch || rj.RoomID != "r2" {
					t.Fatalf("bad payload: %+v", rj)
				}
			},
		},
		{
			name: "error frame carries code",
			raw:  `{"type":"error","code":"ROOM_FULL","message":"room is full"}`,
			check: func(t *testing.T, m ServerMessage) {
				em := m.(ErrorMessage)
				if em.Code != CodeRoomFull {
					t.Fatalf("want ROOM_FULL, got %s", em.Code)
				}
			},
		},
		{name: "unknown type fails closed", raw: `{"type":"balance_update","amount":5}`, wantErr: true},
		{name: "bad json fails closed", raw: `{"type":`, wantErr: true},
		{name: "bad room state fails closed", raw: `{"type":"rooms_updated","activeRooms":[{"roomId":"r1","state":"WARMUP"}]}`, wantErr: true},
		{name: "state change without roomId fails closed", raw: `{"type":"room_state_changed","oldState":"LOBBY","newState":"PLAYING"}`, wantErr: true},
		{name: "error without code fails closed", raw: `{"type":"error","message":"??"}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := DecodeServerMessage([]byte(tc.raw))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", m)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			tc.check(t, m)
		})
	}
}

func TestJoinErrorUserMessage(t *testing.T) {
	e := &JoinError{Code: CodeRoomNotFound}
	if e.UserMessage() == "" {
		t.Fatalf("expected fallback message for %s", e.Code)
	}
	withMsg := &JoinError{Code: CodeRoomFull, Message: "sorry, full"}
	if withMsg.UserMessage() != "sorry, full" {
		t.Fatalf("server message should win: %q", withMsg.UserMessage())
	}
}
