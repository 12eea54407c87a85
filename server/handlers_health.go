package server

import (
	"net/http"
)

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the store answers. Chat state is informational:
// a disconnected chat does not make the service unready.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":       "not_ready",
			"failed_check": "store",
			"error":        err.Error(),
		})
		return
	}
	resp := map[string]any{"status": "ready", "listeners": h.hub.Listeners()}
	if h.chat != nil {
		resp["chat"] = h.chat.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}
