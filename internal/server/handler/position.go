package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/updownhft/updownbot/internal/domain"
)

// LivePositions is the in-memory view of the book; the position manager
// satisfies it.
type LivePositions interface {
	Open() []domain.Position
	GetByID(positionID string) (domain.Position, bool)
}

// PositionHandler serves live positions and closed-position history. live is
// nil in server-only deployments, where open positions come from the store.
type PositionHandler struct {
	live    LivePositions
	history domain.PositionStore // may be nil in storeless runs
	fills   domain.FillStore     // may be nil
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(live LivePositions, history domain.PositionStore, fills domain.FillStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{live: live, history: history, fills: fills, logger: logger}
}

// ListOpen returns every non-terminal position, preferring the in-memory
// book over the persisted mirror.
// GET /api/positions
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	var positions []domain.Position
	switch {
	case h.live != nil:
		positions = h.live.Open()
	case h.history != nil:
		var err error
		positions, err = h.history.ListOpen(r.Context())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list open positions failed",
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list positions")
			return
		}
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// ListHistory returns persisted positions, newest first.
// GET /api/positions/history?limit=50&offset=0
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "position history requires postgres")
		return
	}

	positions, err := h.history.ListHistory(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list position history failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list position history")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// GetPosition returns one position with its fills. The in-memory book is
// consulted first so live positions reflect unpersisted fills.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var pos domain.Position
	var ok bool
	if h.live != nil {
		pos, ok = h.live.GetByID(id)
	}
	if !ok && h.history != nil {
		stored, err := h.history.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "position not found")
				return
			}
			h.logger.ErrorContext(r.Context(), "get position failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to load position")
			return
		}
		pos, ok = stored, true
	}
	if !ok {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}

	resp := map[string]any{"position": pos}
	if h.fills != nil {
		fills, err := h.fills.ListByPosition(r.Context(), id, domain.ListOpts{Limit: 500})
		if err == nil {
			resp["fills"] = fills
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
