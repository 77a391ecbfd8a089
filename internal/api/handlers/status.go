package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/dochub/internal/db"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/reconcile"
	"github.com/eargollo/dochub/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	DB      *sql.DB
	Manager *reconcile.Manager
	Sched   *scheduler.Scheduler
	Root    *journal.Root
	Version string
}

type statusResponse struct {
	Version          string         `json:"version"`
	StorageRoot      string         `json:"storage_root"`
	JournalEntries   int            `json:"journal_entries"`
	JournalBatches   int            `json:"journal_batches"`
	ActiveRun        *activeRunInfo `json:"active_run"`
	Schedule         scheduleInfo   `json:"schedule"`
	LastCompletedRun *reconcile.Run `json:"last_completed_run"`
	SchemaVersion    int64          `json:"schema_version"`
}

type activeRunInfo struct {
	ID          int64           `json:"id"`
	StartedAt   time.Time       `json:"started_at"`
	TriggeredBy string          `json:"triggered_by"`
	Progress    runProgressInfo `json:"progress"`
}

type runProgressInfo struct {
	BatchesTotal   int64 `json:"batches_total"`
	BatchesScanned int64 `json:"batches_scanned"`
	FilesFound     int64 `json:"files_found"`
	FilesHashed    int64 `json:"files_hashed"`
	CacheHits      int64 `json:"cache_hits"`
	Orphaned       int64 `json:"orphaned"`
	Errors         int64 `json:"errors"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:   h.Version,
		ActiveRun: h.activeRun(),
	}
	if h.Root != nil {
		resp.StorageRoot = h.Root.Backend().String()
		resp.JournalEntries = h.Root.Journal().Len()
		resp.JournalBatches = len(h.Root.Journal().BatchIDs())
	}
	if h.Sched != nil {
		resp.Schedule = scheduleInfo{Cron: h.Sched.CronExpr(), NextRunAt: h.Sched.NextRunAt()}
	}
	if h.DB != nil {
		last, err := reconcile.LastCompleted(r.Context(), h.DB)
		if err != nil {
			slog.Error("status: query last run", "error", err)
		}
		resp.LastCompletedRun = last
		if v, err := db.SchemaVersion(h.DB); err == nil {
			resp.SchemaVersion = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) activeRun() *activeRunInfo {
	if h.Manager == nil {
		return nil
	}
	active := h.Manager.ActiveRun()
	if active == nil {
		return nil
	}
	p := active.Progress
	return &activeRunInfo{
		ID:          active.ID,
		StartedAt:   active.StartedAt.UTC(),
		TriggeredBy: active.TriggeredBy,
		Progress: runProgressInfo{
			BatchesTotal:   p.BatchesTotal.Load(),
			BatchesScanned: p.BatchesScanned.Load(),
			FilesFound:     p.FilesFound.Load(),
			FilesHashed:    p.FilesHashed.Load(),
			CacheHits:      p.CacheHits.Load(),
			Orphaned:       p.Orphaned.Load(),
			Errors:         p.Errors.Load(),
		},
	}
}
