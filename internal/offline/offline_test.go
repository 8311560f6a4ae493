package offline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/miniplay/lobby-client/internal/lobbytest"
)

type fakeReconnector struct {
	connected atomic.Bool
	calls     atomic.Int32
	fail      atomic.Bool
}

func (f *fakeReconnector) Connect(ctx context.Context) error {
	f.calls.Add(1)
	if f.fail.Load() {
		return errors.New("dial refused")
	}
	f.connected.Store(true)
	return nil
}

func (f *fakeReconnector) IsConnected() bool { return f.connected.Load() }

func recvSignal(t *testing.T, ch <-chan struct{}, within time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(within):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDetectsOfflineAndRecovers(t *testing.T) {
	srv := lobbytest.New()
	defer srv.Close()

	rec := &fakeReconnector{}
	offlineCh := make(chan struct{}, 1)
	onlineCh := make(chan struct{}, 1)
	reconnectedCh := make(chan struct{}, 1)

	h := New(Config{
		PingURL:              srv.HealthURL(),
		PingInterval:         20 * time.Millisecond,
		PingTimeout:          200 * time.Millisecond,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       10 * time.Millisecond,
	}, rec, Callbacks{
		OnOffline:     func() { offlineCh <- struct{}{} },
		OnOnline:      func() { onlineCh <- struct{}{} },
		OnReconnected: func() { reconnectedCh <- struct{}{} },
	}, zaptest.NewLogger(t))
	defer h.Stop()

	srv.Refuse(true)
	recvSignal(t, offlineCh, 2*time.Second, "offline callback")
	if h.Online() {
		t.Fatalf("handler should report offline")
	}

	srv.Refuse(false)
	recvSignal(t, onlineCh, 2*time.Second, "online callback")
	recvSignal(t, reconnectedCh, 2*time.Second, "reconnected callback")

	if rec.calls.Load() == 0 {
		t.Fatalf("expected reconnect attempts after coming back online")
	}
	if !h.Online() {
		t.Fatalf("handler should report online")
	}
}

func TestReconnectAttemptsAreBounded(t *testing.T) {
	srv := lobbytest.New()
	defer srv.Close()

	rec := &fakeReconnector{}
	rec.fail.Store(true)
	failedCh := make(chan struct{}, 1)

	h := New(Config{
		PingURL:              srv.HealthURL(),
		PingInterval:         time.Hour, // external signals only
		MaxReconnectAttempts: 3,
		ReconnectDelay:       5 * time.Millisecond,
	}, rec, Callbacks{
		OnReconnectFailed: func(err error) { failedCh <- struct{}{} },
	}, zaptest.NewLogger(t))
	defer h.Stop()

	h.SetOnline(false)
	h.SetOnline(true)

	recvSignal(t, failedCh, 2*time.Second, "reconnect-failed callback")
	if got := rec.calls.Load(); got != 3 {
		t.Fatalf("want exactly 3 bounded attempts, got %d", got)
	}
}

func TestSkipsReconnectWhenAlreadyConnected(t *testing.T) {
	srv := lobbytest.New()
	defer srv.Close()

	rec := &fakeReconnector{}
	rec.connected.Store(true)
	reconnectedCh := make(chan struct{}, 1)

	h := New(Config{
		PingURL:      srv.HealthURL(),
		PingInterval: time.Hour,
	}, rec, Callbacks{
		OnReconnected: func() { reconnectedCh <- struct{}{} },
	}, zaptest.NewLogger(t))
	defer h.Stop()

	h.SetOnline(false)
	h.SetOnline(true)

	time.Sleep(50 * time.Millisecond)
	if rec.calls.Load() != 0 {
		t.Fatalf("no dial should happen when the transport is already connected")
	}
}

func TestPanickingCallbackDoesNotKillHandler(t *testing.T) {
	srv := lobbytest.New()
	defer srv.Close()

	rec := &fakeReconnector{}
	rec.connected.Store(true)
	onlineCh := make(chan struct{}, 1)

	h := New(Config{
		PingURL:      srv.HealthURL(),
		PingInterval: time.Hour,
	}, rec, Callbacks{
		OnOffline: func() { panic("ui handler bug") },
		OnOnline:  func() { onlineCh <- struct{}{} },
	}, zaptest.NewLogger(t))
	defer h.Stop()

	h.SetOnline(false)
	h.SetOnline(true)
	recvSignal(t, onlineCh, time.Second, "online callback after panic")
}
