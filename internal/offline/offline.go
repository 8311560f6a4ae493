// Package offline watches network liveness independently of the lobby
// connection. "No network" and "lobby connection dropped" are different
// failure modes: the lobby client only notices the latter when a send or
// read fails, while polling a health endpoint catches the former up front.
//
// The handler keeps its own bounded reconnect counter, separate from the
// transport's backoff loop. Both paths funnel into the same idempotent
// Reconnector.Connect, which serializes them; there is never more than one
// dial in flight.
package offline

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/miniplay/lobby-client/internal/retry"
)

// Reconnector is the slice of the transport client the handler drives.
type Reconnector interface {
	Connect(ctx context.Context) error
	IsConnected() bool
}

type Config struct {
	// PingURL is the liveness endpoint, e.g. http://host:port/healthz.
	PingURL string
	// PingInterval is how often to probe. Zero means 10s.
	PingInterval time.Duration
	// PingTimeout bounds one probe. Zero means 3s.
	PingTimeout time.Duration
	// MaxReconnectAttempts bounds the back-online reconnect burst.
	MaxReconnectAttempts int
	// ReconnectDelay is the backoff base between those attempts.
	ReconnectDelay time.Duration
}

func (c *Config) withDefaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 3 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 3
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
}

// Callbacks notify the owner of transitions. All are optional and invoked
// from the handler's goroutine; a panicking callback is recovered and logged
// so it cannot take the handler down.
type Callbacks struct {
	OnOffline         func()
	OnOnline          func()
	OnReconnected     func()
	OnReconnectFailed func(err error)
}

type handlerMsg interface{ isHandlerMsg() }

type probeResult struct{ ok bool }

type forceState struct{ online bool }

type reconnectDone struct{ err error }

type onlineQuery struct{ reply chan bool }

func (probeResult) isHandlerMsg()   {}
func (forceState) isHandlerMsg()    {}
func (reconnectDone) isHandlerMsg() {}
func (onlineQuery) isHandlerMsg()   {}

type Handler struct {
	cfg    Config
	cbs    Callbacks
	rec    Reconnector
	log    *zap.Logger
	client *http.Client
	inbox  chan handlerMsg
	ctx    context.Context
	cancel context.CancelFunc

	// loop-owned
	online       bool
	probing      bool
	reconnecting bool
}

func New(cfg Config, rec Reconnector, cbs Callbacks, log *zap.Logger) *Handler {
	cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		cfg:    cfg,
		cbs:    cbs,
		rec:    rec,
		log:    log,
		client: &http.Client{Timeout: cfg.PingTimeout},
		inbox:  make(chan handlerMsg, 16),
		ctx:    ctx,
		cancel: cancel,
		online: true, // assume online until a probe says otherwise
	}
	go h.loop()
	return h
}

func (h *Handler) Stop() { h.cancel() }

// Online reports the last observed liveness state.
func (h *Handler) Online() bool {
	reply := make(chan bool, 1)
	select {
	case h.inbox <- onlineQuery{reply: reply}:
	case <-h.ctx.Done():
		return false
	}
	select {
	case v := <-reply:
		return v
	case <-h.ctx.Done():
		return false
	}
}

// SetOnline feeds an external connectivity signal (the moral equivalent of
// the browser online/offline events) into the handler.
func (h *Handler) SetOnline(online bool) {
	select {
	case h.inbox <- forceState{online: online}:
	case <-h.ctx.Done():
	}
}

func (h *Handler) post(m handlerMsg) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
	}
}

func (h *Handler) loop() {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			if h.probing {
				continue
			}
			h.probing = true
			go func() { h.post(probeResult{ok: h.probe()}) }()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case probeResult:
				h.probing = false
				h.transition(msg.ok)
			case forceState:
				h.transition(msg.online)
			case reconnectDone:
				h.reconnecting = false
				if msg.err == nil {
					h.safeCall(h.cbs.OnReconnected)
				} else {
					h.log.Warn("reconnect after offline failed", zap.Error(msg.err))
					if h.cbs.OnReconnectFailed != nil {
						h.safeCall(func() { h.cbs.OnReconnectFailed(msg.err) })
					}
				}
			case onlineQuery:
				msg.reply <- h.online
			}
		}
	}
}

func (h *Handler) probe() bool {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.cfg.PingURL, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (h *Handler) transition(online bool) {
	if online == h.online {
		return
	}
	h.online = online

	if !online {
		h.log.Warn("network offline")
		h.safeCall(h.cbs.OnOffline)
		return
	}

	h.log.Info("network back online")
	h.safeCall(h.cbs.OnOnline)

	if h.reconnecting || h.rec.IsConnected() {
		return
	}
	h.reconnecting = true
	go h.reconnect()
}

// reconnect runs the handler's own bounded attempt loop. The counter here
// is independent of the transport's backoff counter.
func (h *Handler) reconnect() {
	backoff := retry.Config{BaseDelay: h.cfg.ReconnectDelay, MaxDelay: 30 * time.Second}
	var lastErr error

	for attempt := 0; attempt < h.cfg.MaxReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retry.Delay(backoff, attempt-1)):
			case <-h.ctx.Done():
				return
			}
		}
		if h.rec.IsConnected() {
			h.post(reconnectDone{})
			return
		}
		ctx, cancel := context.WithTimeout(h.ctx, 15*time.Second)
		err := h.rec.Connect(ctx)
		cancel()
		if err == nil {
			h.post(reconnectDone{})
			return
		}
		lastErr = err
	}
	h.post(reconnectDone{err: lastErr})
}

func (h *Handler) safeCall(f func()) {
	if f == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("callback panicked", zap.Any("panic", r))
		}
	}()
	f()
}
