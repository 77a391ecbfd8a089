package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eargollo/dochub/internal/journal"
)

// ErrAlreadyRunning is returned when a rebuild is started while one is in progress.
var ErrAlreadyRunning = errors.New("a reconciliation is already in progress")

// ErrNoActiveRun is returned when cancel is called with no rebuild running.
var ErrNoActiveRun = errors.New("no reconciliation is currently running")

// KnownIDs supplies the valid batch ids for orphan detection. A nil func or
// an empty set disables orphan detection.
type KnownIDs func(ctx context.Context) (map[string]struct{}, error)

// ActiveRun holds live information about the running rebuild.
type ActiveRun struct {
	ID          int64
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// Manager enforces a single-active-rebuild invariant and exposes
// start/cancel. It is safe for concurrent use.
type Manager struct {
	mu              sync.Mutex
	db              *sql.DB
	root            *journal.Root
	opts            Options
	known           KnownIDs
	backupRetention int

	active   *ActiveRun
	cancelFn context.CancelFunc
}

// NewManager creates a Manager. backupRetention is the number of journal
// backups kept after a successful rebuild; 0 keeps all.
func NewManager(db *sql.DB, root *journal.Root, opts Options, known KnownIDs, backupRetention int) *Manager {
	return &Manager{
		db:              db,
		root:            root,
		opts:            opts,
		known:           known,
		backupRetention: backupRetention,
	}
}

// Start launches an asynchronous rebuild. Returns an ActiveRun snapshot or
// ErrAlreadyRunning if a rebuild is already in progress.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveRun, error) {
	active, runCtx, err := m.begin(parentCtx, triggeredBy)
	if err != nil {
		return nil, err
	}
	snap := *active

	go func() {
		if _, err := m.execute(runCtx, active, nil); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("reconcile run error", "error", err)
		}
		m.finish()
	}()

	return &snap, nil
}

// Run performs a rebuild synchronously and returns its result. It shares
// the single-active-run invariant with Start.
func (m *Manager) Run(ctx context.Context, triggeredBy string, onProgress ProgressFunc) (int64, *ScanResult, error) {
	active, runCtx, err := m.begin(ctx, triggeredBy)
	if err != nil {
		return 0, nil, err
	}
	defer m.finish()
	res, err := m.execute(runCtx, active, onProgress)
	return active.ID, res, err
}

// Cancel stops the currently running rebuild. Returns ErrNoActiveRun if idle.
func (m *Manager) Cancel() (*ActiveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveRun
	}

	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// ActiveRun returns a snapshot of the running rebuild, or nil when idle.
func (m *Manager) ActiveRun() *ActiveRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

func (m *Manager) begin(parentCtx context.Context, triggeredBy string) (*ActiveRun, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, nil, ErrAlreadyRunning
	}

	// The row is created now so the id is available to the caller before
	// the rebuild begins.
	startedAt := time.Now()
	runID, err := insertRunRecord(m.db, startedAt, triggeredBy, m.root.Backend().String())
	if err != nil {
		return nil, nil, fmt.Errorf("create run record: %w", err)
	}

	runCtx, cancel := context.WithCancel(parentCtx)
	m.active = &ActiveRun{
		ID:          runID,
		StartedAt:   startedAt,
		TriggeredBy: triggeredBy,
		Progress:    &Progress{},
	}
	m.cancelFn = cancel
	return m.active, runCtx, nil
}

func (m *Manager) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.active = nil
	m.cancelFn = nil
}

// execute runs the rebuild for an already-created run record.
func (m *Manager) execute(ctx context.Context, active *ActiveRun, onProgress ProgressFunc) (*ScanResult, error) {
	slog.Info("reconcile started", "id", active.ID, "triggered_by", active.TriggeredBy, "root", m.root.Backend().String())

	var res *ScanResult
	var known map[string]struct{}
	var runErr error
	if m.known != nil {
		known, runErr = m.known(ctx)
		if runErr != nil {
			runErr = fmt.Errorf("load known batch ids: %w", runErr)
		}
	}

	if runErr == nil {
		reporterStop := make(chan struct{})
		go progressReporter(ctx, m.db, active.ID, active.Progress, reporterStop)

		s := New(m.root, m.db, m.opts)
		s.SetErrorReporter(func(path, stage, errMsg string) {
			insertRunError(m.db, active.ID, path, stage, errMsg)
		})
		res, runErr = s.rebuild(ctx, known, onProgress, active.Progress)
		close(reporterStop)
	}

	status := "completed"
	if ctx.Err() != nil {
		status = "cancelled"
		if runErr == nil {
			runErr = ctx.Err()
		}
	} else if runErr != nil {
		status = "failed"
	}

	finishedAt := time.Now()
	duration := int64(finishedAt.Sub(active.StartedAt).Seconds())
	if err := finaliseRunRecord(m.db, active.ID, status, finishedAt.Unix(), duration, active.Progress, res); err != nil {
		slog.Error("finalise run record", "id", active.ID, "error", err)
	}
	if res != nil {
		if err := insertOrphans(m.db, active.ID, res.OrphanedFiles); err != nil {
			slog.Error("record orphans", "id", active.ID, "error", err)
		}
	}

	if status == "completed" && m.backupRetention > 0 {
		n, err := journal.PruneBackups(context.WithoutCancel(ctx), m.root.Backend(), m.backupRetention)
		if err != nil {
			slog.Warn("prune journal backups", "error", err)
		} else if n > 0 {
			slog.Info("pruned journal backups", "removed", n)
		}
	}

	attrs := []any{"id", active.ID, "status", status}
	if res != nil {
		attrs = append(attrs,
			"files_found", res.FilesFound,
			"new", res.NewEntriesAdded,
			"preserved", res.ExistingEntriesPreserved,
			"orphaned", len(res.OrphanedFiles),
			"errors", len(res.Errors))
	}
	slog.Info("reconcile finished", attrs...)

	return res, runErr
}
