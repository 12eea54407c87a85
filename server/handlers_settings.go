package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/chat"
	"github.com/onnwee/overtime-timer/backend/store"
	"github.com/onnwee/overtime-timer/backend/telemetry"
)

// HandleTierSettings reads, replaces or resets the tier minutes.
func (h *Handlers) HandleTierSettings(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodGet, http.MethodPut, http.MethodDelete) {
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodPut:
		var t store.TierSettings
		if err := decodeJSON(r, &t); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.chat.UpdateTierSettings(ctx, t.Tier1, t.Tier2, t.Tier3); err != nil {
			writeError(w, r, err)
			return
		}
	case http.MethodDelete:
		if err := h.chat.ResetTierSettings(ctx); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.chat.TierSettings(ctx))
}

// HandleDonationSettings reads, replaces or resets the bits conversion.
func (h *Handlers) HandleDonationSettings(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodGet, http.MethodPut, http.MethodDelete) {
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodPut:
		var d store.DonationSettings
		if err := decodeJSON(r, &d); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.chat.UpdateDonationSettings(ctx, d); err != nil {
			writeError(w, r, err)
			return
		}
	case http.MethodDelete:
		if err := h.chat.ResetDonationSettings(ctx); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.chat.DonationSettings(ctx))
}

// HandleGeneralSettings reads or replaces the general settings.
func (h *Handlers) HandleGeneralSettings(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	ctx := r.Context()
	if r.Method == http.MethodPut {
		g := h.store.General(ctx)
		if err := decodeJSON(r, &g); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.store.SaveGeneral(ctx, g); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.store.General(ctx))
}

type donationRequest struct {
	Bits int `json:"bits"`
}

type donationResult struct {
	Minutes  int               `json:"minutes"`
	Seconds  int               `json:"seconds"`
	Snapshot any               `json:"snapshot"`
	Toast    chat.Notification `json:"notification"`
}

// HandleDonation applies a manually entered bits donation with the same conversion
// rules as cheers seen in chat.
func (h *Handlers) HandleDonation(w http.ResponseWriter, r *http.Request) {
	if !methods(w, r, http.MethodPost) {
		return
	}
	var req donationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Bits <= 0 {
		writeError(w, r, fmt.Errorf("bits must be positive: %w", apperr.ErrInvalidInput))
		return
	}
	ctx := r.Context()
	g, reason := chat.BitsGrant(h.chat.DonationSettings(ctx), req.Bits, "manual entry")
	if g == nil {
		writeError(w, r, fmt.Errorf("donation of %d bits ignored: %s: %w", req.Bits, reason, apperr.ErrInvalidInput))
		return
	}
	if err := h.engine.AddTime(ctx, g.Seconds, 0); err != nil {
		writeError(w, r, err)
		return
	}
	telemetry.RecordChatEvent("manual_bits")
	telemetry.LoggerWithCorr(ctx).Info("manual donation", slog.Int("bits", req.Bits), slog.Int("minutes", g.Minutes))
	h.hub.Notify(g.Notification)
	writeJSON(w, http.StatusOK, donationResult{
		Minutes:  g.Minutes,
		Seconds:  g.Seconds,
		Snapshot: h.engine.Snapshot(),
		Toast:    g.Notification,
	})
}
