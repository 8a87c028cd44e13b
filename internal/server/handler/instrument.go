package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/updownhft/updownbot/internal/domain"
)

// InstrumentHandler serves the discovered instrument universe.
type InstrumentHandler struct {
	store  domain.InstrumentStore
	logger *slog.Logger
}

// NewInstrumentHandler creates an InstrumentHandler.
func NewInstrumentHandler(store domain.InstrumentStore, logger *slog.Logger) *InstrumentHandler {
	return &InstrumentHandler{store: store, logger: logger}
}

// ListActive returns unexpired active instruments ordered by expiry.
// GET /api/instruments
func (h *InstrumentHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	insts, err := h.store.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list instruments failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list instruments")
		return
	}
	if insts == nil {
		insts = []domain.Instrument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": insts})
}

// GetInstrument returns one instrument by venue market ID.
// GET /api/instruments/{id}
func (h *InstrumentHandler) GetInstrument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	inst, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instrument not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get instrument failed",
			slog.String("instrument_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load instrument")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instrument": inst})
}
