package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/store"
	"github.com/onnwee/overtime-timer/backend/telemetry"
)

type remoteTimerView struct {
	store.RemoteTimerState
	ActualRemainingTime int   `json:"actualRemainingTime"`
	ServerTime          int64 `json:"serverTime"`
}

type remoteTimerResult struct {
	Success bool                   `json:"success"`
	State   store.RemoteTimerState `json:"state"`
}

// HandleRemoteTimer serves the remote-sync target: GET returns the mirrored state with
// the remaining time derived at the server clock, POST merges a snapshot into it.
func (h *Handlers) HandleRemoteTimer(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	now := h.clock.Now().UnixMilli()
	if r.Method == http.MethodGet {
		st := h.store.RemoteTimer(r.Context())
		writeJSON(w, http.StatusOK, remoteTimerView{
			RemoteTimerState:    st,
			ActualRemainingTime: st.ActualRemaining(now),
			ServerTime:          now,
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apperr.ErrInvalidInput)
		return
	}
	st, err := h.store.MergeRemoteTimer(r.Context(), body, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Debug("remote timer updated",
		slog.Int("remaining", st.RemainingTime), slog.Bool("running", st.IsRunning))
	writeJSON(w, http.StatusOK, remoteTimerResult{Success: true, State: st})
}

// HandleRemoteTimerReset zeroes the mirrored state.
func (h *Handlers) HandleRemoteTimerReset(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodPost) {
		return
	}
	st, err := h.store.ResetRemoteTimer(r.Context(), h.clock.Now().UnixMilli())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, remoteTimerResult{Success: true, State: st})
}
