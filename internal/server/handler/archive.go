package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/updownhft/updownbot/internal/domain"
)

// archiveRoot prefixes every key the monthly archive job writes.
const archiveRoot = "archive/"

// archiveKinds are the datasets the archive job exports.
var archiveKinds = map[string]bool{
	"positions":     true,
	"opportunities": true,
	"fills":         true,
}

// ArchiveHandler serves the monthly JSONL exports back out of object
// storage, so operators can pull history without bucket credentials.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

// List returns the archived objects, optionally narrowed to one dataset.
// GET /api/archive?kind=positions
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := archiveRoot
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if !archiveKinds[kind] {
			writeError(w, http.StatusBadRequest, "unknown archive kind")
			return
		}
		prefix += kind + "/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive listing failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": infos})
}

// Download streams one archived month as newline-delimited JSON.
// GET /api/archive/{kind}/{name}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	name := r.PathValue("name")
	if !archiveKinds[kind] || name == "" || strings.ContainsAny(name, "/\\") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	path := archiveRoot + kind + "/" + name
	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "archive fetch failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to fetch archive object")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		// The client went away mid-stream; nothing to recover.
		h.logger.DebugContext(r.Context(), "archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}
