package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// SubmissionLister lists journaled submissions newest first.
type SubmissionLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.SubmissionRecord, error)
}

// SubmissionHandler serves the submission journal.
type SubmissionHandler struct {
	store  SubmissionLister
	logger *slog.Logger
}

// NewSubmissionHandler creates a SubmissionHandler.
func NewSubmissionHandler(store SubmissionLister, logger *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{store: store, logger: logger.With(slog.String("handler", "submissions"))}
}

// List handles GET /api/submissions?limit=&offset=&since=.
func (h *SubmissionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list submissions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	if recs == nil {
		recs = []domain.SubmissionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": recs, "count": len(recs)})
}
