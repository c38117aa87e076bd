package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// AuditLister lists audit entries newest first.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log, including engine_fatal entries.
type AuditHandler struct {
	store  AuditLister
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(store AuditLister, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger.With(slog.String("handler", "audit"))}
}

// List handles GET /api/audit?limit=&offset=&since=.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
