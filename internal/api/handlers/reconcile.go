package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/dochub/internal/reconcile"
)

// ReconcileHandler handles journal reconciliation endpoints.
type ReconcileHandler struct {
	DB      *sql.DB
	Manager *reconcile.Manager
}

// Create handles POST /api/reconcile. The rebuild runs in the background.
func (h *ReconcileHandler) Create(w http.ResponseWriter, r *http.Request) {
	active, err := h.Manager.Start(context.Background(), "manual")
	if err != nil {
		if errors.Is(err, reconcile.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "RECONCILE_ALREADY_RUNNING", "A reconciliation is already in progress")
			return
		}
		slog.Error("reconcile: start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start reconciliation")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":           active.ID,
		"status":       "running",
		"started_at":   active.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by": active.TriggeredBy,
	})
}

// Cancel handles DELETE /api/reconcile/current.
func (h *ReconcileHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		if errors.Is(err, reconcile.ErrNoActiveRun) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_RUN", "No reconciliation is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          snap.ID,
		"status":      "cancelled",
		"started_at":  snap.StartedAt.UTC().Format(time.RFC3339),
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// List handles GET /api/reconcile: run history, newest first.
func (h *ReconcileHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := parsePagination(r)
	runs, err := reconcile.ListRuns(r.Context(), h.DB, limit)
	if err != nil {
		slog.Error("reconcile list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if runs == nil {
		runs = []reconcile.Run{}
	}
	writeJSON(w, http.StatusOK, ListResponse[reconcile.Run]{
		Items: runs,
		Total: len(runs),
		Limit: limit,
	})
}

// Get handles GET /api/reconcile/{id}.
func (h *ReconcileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer")
		return
	}
	run, err := reconcile.GetRun(r.Context(), h.DB, id)
	if errors.Is(err, reconcile.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Reconciliation run not found")
		return
	}
	if err != nil {
		slog.Error("reconcile get", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}
