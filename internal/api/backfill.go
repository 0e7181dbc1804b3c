package api

import (
	"context"
	"net/http"

	"github.com/medicore/medicore/internal/log"
	"github.com/medicore/medicore/internal/rag"
)

// BackfillFunc runs one embedding backfill pass.
type BackfillFunc func(ctx context.Context) (rag.BackfillReport, error)

// BackfillHandler triggers the embedding backfill.
//
// POST /api/backfill - embeds every document still missing a vector and
// returns the aggregate report. Per-document failures are reflected in the
// report, not as an HTTP error.
type BackfillHandler struct {
	run    BackfillFunc
	logger log.Logger
}

// NewBackfillHandler creates a backfill handler.
func NewBackfillHandler(run BackfillFunc, logger log.Logger) *BackfillHandler {
	return &BackfillHandler{run: run, logger: logger}
}

// RegisterRoutes registers the backfill route on the given mux.
func (h *BackfillHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backfill", h.handle)
}

type backfillResponse struct {
	Message string             `json:"message"`
	Report  rag.BackfillReport `json:"report"`
}

func (h *BackfillHandler) handle(w http.ResponseWriter, r *http.Request) {
	report, err := h.run(r.Context())
	if err != nil {
		h.logger.Error("backfill failed", "error", err)
		writeError(w, http.StatusInternalServerError, "backfill failed", h.logger)
		return
	}

	message := "Backfill complete"
	if report.Total == 0 {
		message = "All documents already have embeddings"
	}

	writeJSON(w, http.StatusOK, backfillResponse{Message: message, Report: report}, h.logger)
}
