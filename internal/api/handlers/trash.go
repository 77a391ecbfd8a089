package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/eargollo/dochub/internal/trash"
)

// TrashHandler handles trash API endpoints.
type TrashHandler struct {
	Trash *trash.Manager
}

// List handles GET /api/trash.
func (h *TrashHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Trash.List(r.Context())
	if err != nil {
		slog.Error("trash list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[trash.Item]{Items: items, Total: len(items), Limit: len(items)})
}

// Restore handles POST /api/trash/{id}/restore.
func (h *TrashHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer")
		return
	}
	it, err := h.Trash.Restore(r.Context(), id)
	var conflict *trash.ErrRestoreConflict
	switch {
	case errors.Is(err, trash.ErrNotTrashed):
		writeError(w, http.StatusNotFound, "NOT_TRASHED", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "RESTORE_CONFLICT", conflict.Error())
	case err != nil:
		slog.Error("trash restore", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	default:
		writeJSON(w, http.StatusOK, it)
	}
}

// PurgeAll handles DELETE /api/trash.
func (h *TrashHandler) PurgeAll(w http.ResponseWriter, r *http.Request) {
	count, freed, err := h.Trash.PurgeAll(r.Context())
	if err != nil {
		slog.Error("trash purge", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"purged":      count,
		"bytes_freed": freed,
		"freed":       humanize.Bytes(uint64(freed)),
	})
}
