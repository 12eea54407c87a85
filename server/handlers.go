// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/chat"
	"github.com/onnwee/overtime-timer/backend/store"
	"github.com/onnwee/overtime-timer/backend/telemetry"
	"github.com/onnwee/overtime-timer/backend/timer"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Engine is the countdown command surface.
type Engine interface {
	SetInitialTime(ctx context.Context, seconds int) error
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Reset(ctx context.Context) error
	AddTime(ctx context.Context, seconds, points int) error
	Snapshot() timer.Snapshot
	Stats(ctx context.Context) store.DailyStats
}

// Chat is the chat pipeline command surface.
type Chat interface {
	Status() chat.ConnectionStatus
	Connect(ctx context.Context, channel string) error
	Disconnect(ctx context.Context) error
	TierSettings(ctx context.Context) store.TierSettings
	UpdateTierSettings(ctx context.Context, tier1, tier2, tier3 int) error
	ResetTierSettings(ctx context.Context) error
	DonationSettings(ctx context.Context) store.DonationSettings
	UpdateDonationSettings(ctx context.Context, d store.DonationSettings) error
	ResetDonationSettings(ctx context.Context) error
}

// Store is the slice of the persistent store the handlers use directly.
type Store interface {
	Ping(ctx context.Context) error
	General(ctx context.Context) store.GeneralSettings
	SaveGeneral(ctx context.Context, g store.GeneralSettings) error
	RemoteTimer(ctx context.Context) store.RemoteTimerState
	MergeRemoteTimer(ctx context.Context, patch []byte, nowMs int64) (store.RemoteTimerState, error)
	ResetRemoteTimer(ctx context.Context, nowMs int64) (store.RemoteTimerState, error)
}

// Deps are the components served over HTTP.
type Deps struct {
	Engine Engine
	Chat   Chat
	Store  Store
	Hub    *Hub
	Clock  clockwork.Clock // nil uses the real clock
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	engine Engine
	chat   Chat
	store  Store
	hub    *Hub
	clock  clockwork.Clock
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Hub == nil {
		d.Hub = NewHub(DefaultHubConfig())
	}
	return &Handlers{engine: d.Engine, chat: d.Chat, store: d.Store, hub: d.Hub, clock: d.Clock}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}

// writeError maps err through the error taxonomy. Unknown errors are logged with the
// request correlation id and hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		telemetry.LoggerWithCorr(r.Context()).Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w: %v", apperr.ErrInvalidInput, err)
	}
	return decodeBytes(body, v)
}

func decodeBytes(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}

// methods rejects requests whose method is not in allowed.
func methods(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	for _, m := range allowed {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", joinMethods(allowed))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}
