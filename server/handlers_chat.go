package server

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/telemetry"
)

// HandleChatStatus returns the connection status.
func (h *Handlers) HandleChatStatus(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.chat.Status())
}

type connectRequest struct {
	Channel string `json:"channel"`
}

// HandleChatConnect joins a channel and blocks until it is confirmed or times out.
func (h *Handlers) HandleChatConnect(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodPost) {
		return
	}
	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Channel == "" {
		writeError(w, r, fmt.Errorf("channel is required: %w", apperr.ErrInvalidInput))
		return
	}
	ctx, span := telemetry.StartSpan(r.Context(), "chat", "connect", func() []attribute.KeyValue {
		return []attribute.KeyValue{attribute.String("chat.channel", req.Channel)}
	})
	err := h.chat.Connect(ctx, req.Channel)
	telemetry.EndSpan(span, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.chat.Status())
}

// HandleChatDisconnect closes the connection normally.
func (h *Handlers) HandleChatDisconnect(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodPost) {
		return
	}
	if err := h.chat.Disconnect(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.chat.Status())
}
