package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/onnwee/overtime-timer/backend/telemetry"
)

// HandleEngine returns the engine snapshot.
func (h *Handlers) HandleEngine(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// HandleEngineStats returns today's statistics.
func (h *Handlers) HandleEngineStats(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Stats(r.Context()))
}

type setRequest struct {
	Seconds int `json:"seconds"`
}

type addRequest struct {
	Seconds int `json:"seconds"`
	Points  int `json:"points"`
}

// HandleEngineSet sets the initial time.
func (h *Handlers) HandleEngineSet(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodPost) {
		return
	}
	var req setRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.engineCommand(w, r, "set", func(ctx context.Context) error {
		return h.engine.SetInitialTime(ctx, req.Seconds)
	})
}

// HandleEngineAdd adds (or with negative seconds removes) time, with optional points.
func (h *Handlers) HandleEngineAdd(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodPost) {
		return
	}
	var req addRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.engineCommand(w, r, "add", func(ctx context.Context) error {
		return h.engine.AddTime(ctx, req.Seconds, req.Points)
	})
}

func (h *Handlers) HandleEngineStart(w http.ResponseWriter, r *http.Request) {
	if methods(w, r, http.MethodPost) {
		h.engineCommand(w, r, "start", h.engine.Start)
	}
}

func (h *Handlers) HandleEnginePause(w http.ResponseWriter, r *http.Request) {
	if methods(w, r, http.MethodPost) {
		h.engineCommand(w, r, "pause", h.engine.Pause)
	}
}

func (h *Handlers) HandleEngineReset(w http.ResponseWriter, r *http.Request) {
	if methods(w, r, http.MethodPost) {
		h.engineCommand(w, r, "reset", h.engine.Reset)
	}
}

// engineCommand runs fn and answers with the resulting snapshot.
func (h *Handlers) engineCommand(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context) error) {
	ctx, span := telemetry.StartSpan(r.Context(), "engine", name, nil)
	err := fn(ctx)
	telemetry.EndSpan(span, err)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Info("engine command rejected", slog.String("command", name), slog.Any("err", err))
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}
