package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/overtime-timer/backend/chat"
	"github.com/onnwee/overtime-timer/backend/cue"
	"github.com/onnwee/overtime-timer/backend/timer"
)

// Message types on the event feed.
const (
	MsgEngine       = "engine"
	MsgNotification = "notification"
	MsgCue          = "cue"
	MsgChat         = "chat"
)

// Message is one frame on the event feed.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// HubConfig holds WebSocket tuning for display clients.
type HubConfig struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	BufferSize     int
	CheckOrigin    func(r *http.Request) bool
}

// DefaultHubConfig returns the display feed defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1024,
		BufferSize:     64,
	}
}

// Hub fans engine events, notifications, cue requests and chat status out to
// WebSocket and SSE listeners. It is the cue.Sink and chat.Notifier of the service.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu        sync.RWMutex
	listeners map[*listener]struct{}
	onJoin    []func()
}

type listener struct {
	id     string
	kind   string // ws, sse
	send   chan []byte
	closed bool
}

// NewHub returns an empty hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger:    slog.Default().With(slog.String("component", "hub")),
		listeners: make(map[*listener]struct{}),
	}
}

// OnJoin registers fn to run whenever a listener attaches. The cue gate is enabled
// this way once a display is present.
func (h *Hub) OnJoin(fn func()) {
	h.mu.Lock()
	h.onJoin = append(h.onJoin, fn)
	h.mu.Unlock()
}

// Listeners returns the number of attached listeners.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

func (h *Hub) register(kind string) *listener {
	l := &listener{id: uuid.NewString(), kind: kind, send: make(chan []byte, h.cfg.BufferSize)}
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	hooks := append([]func(){}, h.onJoin...)
	n := len(h.listeners)
	h.mu.Unlock()

	h.logger.Info("listener attached", slog.String("id", l.id), slog.String("kind", kind), slog.Int("listeners", n))
	for _, fn := range hooks {
		fn()
	}
	return l
}

func (h *Hub) unregister(l *listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[l]; !ok {
		return
	}
	delete(h.listeners, l)
	if !l.closed {
		l.closed = true
		close(l.send)
	}
	h.logger.Info("listener detached", slog.String("id", l.id), slog.Int("listeners", len(h.listeners)))
}

// Publish encodes msg once and queues it for every listener. A listener whose buffer
// is full is dropped.
func (h *Hub) Publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode message", slog.String("type", msg.Type), slog.Any("err", err))
		return
	}
	h.mu.RLock()
	targets := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		targets = append(targets, l)
	}
	h.mu.RUnlock()

	for _, l := range targets {
		if !h.offer(l, data) {
			h.logger.Warn("listener too slow, dropping", slog.String("id", l.id))
			h.unregister(l)
		}
	}
}

func (h *Hub) offer(l *listener, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if l.closed {
		return true
	}
	select {
	case l.send <- data:
		return true
	default:
		return false
	}
}

// PlayCue implements cue.Sink.
func (h *Hub) PlayCue(c cue.Cue) {
	h.Publish(Message{Type: MsgCue, Data: map[string]string{"cue": string(c)}})
}

// Notify implements chat.Notifier.
func (h *Hub) Notify(n chat.Notification) {
	h.Publish(Message{Type: MsgNotification, Data: n})
}

// ConnectionChanged implements chat.Notifier.
func (h *Hub) ConnectionChanged(s chat.ConnectionStatus) {
	h.Publish(Message{Type: MsgChat, Data: s})
}

// Pump forwards engine events until ctx ends or events closes.
func (h *Hub) Pump(ctx context.Context, events <-chan timer.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Publish(Message{Type: MsgEngine, Data: ev})
		}
	}
}

// ServeWS upgrades the request and streams messages, starting with initial.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial ...Message) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}
	l := h.register("ws")
	for _, m := range initial {
		if data, err := json.Marshal(m); err == nil {
			h.offer(l, data)
		}
	}
	go h.writePump(conn, l)
	go h.readPump(conn, l)
	return nil
}

func (h *Hub) writePump(conn *websocket.Conn, l *listener) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		h.unregister(l)
	}()
	for {
		select {
		case data, ok := <-l.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("write failed", slog.String("id", l.id), slog.Any("err", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames; it exists to process control frames and notice
// the client going away.
func (h *Hub) readPump(conn *websocket.Conn, l *listener) {
	defer func() {
		h.unregister(l)
		_ = conn.Close()
	}()
	if h.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("unexpected close", slog.String("id", l.id), slog.Any("err", err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
}

// ServeSSE streams messages as Server-Sent Events until the client goes away.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, initial ...Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	l := h.register("sse")
	defer h.unregister(l)
	for _, m := range initial {
		if data, err := json.Marshal(m); err == nil {
			h.offer(l, data)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.cfg.PingInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-l.send:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				slog.Warn("failed to write SSE event", slog.Any("err", err))
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
