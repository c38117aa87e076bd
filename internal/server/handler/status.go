package handler

import (
	"net/http"
)

// StatusHandler reports the running mode and the last processed height.
type StatusHandler struct {
	mode     string
	strategy string
	progress func() (height uint64, started bool)
}

// NewStatusHandler creates a StatusHandler. progress may be nil.
func NewStatusHandler(mode, strategy string, progress func() (uint64, bool)) *StatusHandler {
	return &StatusHandler{mode: mode, strategy: strategy, progress: progress}
}

// GetStatus handles GET /api/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"mode": h.mode, "strategy": h.strategy}
	if h.progress != nil {
		if height, started := h.progress(); started {
			body["last_processed_height"] = height
		}
	}
	writeJSON(w, http.StatusOK, body)
}
