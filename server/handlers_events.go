package server

import (
	"log/slog"
	"net/http"
)

// initialMessages primes a new listener with the current engine and chat state.
func (h *Handlers) initialMessages() []Message {
	msgs := []Message{{Type: MsgEngine, Data: map[string]any{"type": "snapshot", "snapshot": h.engine.Snapshot()}}}
	if h.chat != nil {
		msgs = append(msgs, Message{Type: MsgChat, Data: h.chat.Status()})
	}
	return msgs
}

// HandleWS attaches a WebSocket display client.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.ServeWS(w, r, h.initialMessages()...); err != nil {
		slog.Debug("websocket upgrade failed", slog.Any("err", err))
	}
}

// HandleEvents attaches an SSE display client.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodGet) {
		return
	}
	h.hub.ServeSSE(w, r, h.initialMessages()...)
}
