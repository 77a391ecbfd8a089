package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("reconcile run not found")

// Run is one row of reconcile_runs.
type Run struct {
	ID               int64      `json:"id"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	Status           string     `json:"status"`
	TriggeredBy      string     `json:"triggeredBy"`
	StorageRoot      string     `json:"storageRoot"`
	BatchesTotal     int64      `json:"batchesTotal"`
	BatchesScanned   int64      `json:"batchesScanned"`
	FilesFound       int64      `json:"filesFound"`
	NewEntries       int64      `json:"newEntries"`
	PreservedEntries int64      `json:"preservedEntries"`
	OrphanedFiles    int64      `json:"orphanedFiles"`
	FilesHashed      int64      `json:"filesHashed"`
	CacheHits        int64      `json:"cacheHits"`
	Errors           int64      `json:"errors"`
	BackupCreated    bool       `json:"backupCreated"`
	BackupPath       string     `json:"backupPath,omitempty"`
	DurationSeconds  *int64     `json:"durationSeconds,omitempty"`
}

// RunError is one row of reconcile_errors.
type RunError struct {
	Path       string    `json:"path"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurredAt"`
}

// RunDetail is a run with its recorded errors and orphans.
type RunDetail struct {
	Run
	ErrorList []RunError `json:"errorList"`
	Orphans   []string   `json:"orphans"`
}

const runColumns = `id, started_at, finished_at, status, triggered_by, storage_root,
	batches_total, batches_scanned, files_found, new_entries, preserved_entries,
	orphaned_files, files_hashed, cache_hits, errors, backup_created, backup_path,
	duration_seconds`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
		backup   sql.NullString
		duration sql.NullInt64
		created  int64
	)
	err := row.Scan(&r.ID, &started, &finished, &r.Status, &r.TriggeredBy, &r.StorageRoot,
		&r.BatchesTotal, &r.BatchesScanned, &r.FilesFound, &r.NewEntries, &r.PreservedEntries,
		&r.OrphanedFiles, &r.FilesHashed, &r.CacheHits, &r.Errors, &created, &backup,
		&duration)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(started, 0).UTC()
	if finished.Valid {
		t := time.Unix(finished.Int64, 0).UTC()
		r.FinishedAt = &t
	}
	r.BackupCreated = created != 0
	r.BackupPath = backup.String
	if duration.Valid {
		d := duration.Int64
		r.DurationSeconds = &d
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func ListRuns(ctx context.Context, db *sql.DB, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM reconcile_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastCompleted returns the most recent completed run, or nil.
func LastCompleted(ctx context.Context, db *sql.DB) (*Run, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM reconcile_runs WHERE status = 'completed' ORDER BY started_at DESC, id DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last completed run: %w", err)
	}
	return &r, nil
}

// GetRun returns a run with its errors and orphaned paths.
func GetRun(ctx context.Context, db *sql.DB, id int64) (*RunDetail, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM reconcile_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}
	d := &RunDetail{Run: r, ErrorList: []RunError{}, Orphans: []string{}}

	rows, err := db.QueryContext(ctx,
		`SELECT path, stage, error, occurred_at FROM reconcile_errors WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get run errors: %w", err)
	}
	for rows.Next() {
		var e RunError
		var at int64
		if err := rows.Scan(&e.Path, &e.Stage, &e.Error, &at); err != nil {
			rows.Close()
			return nil, err
		}
		e.OccurredAt = time.Unix(at, 0).UTC()
		d.ErrorList = append(d.ErrorList, e)
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT path FROM reconcile_orphans WHERE run_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, fmt.Errorf("get run orphans: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		d.Orphans = append(d.Orphans, p)
	}
	return d, rows.Err()
}

// MarkStaleRunsFailed marks any reconcile_runs rows still in 'running' state
// as 'failed'. Called once at startup in case a previous process crashed
// mid-run.
func MarkStaleRunsFailed(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE reconcile_runs
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale runs failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale reconcile runs as failed", "count", n)
	}
	return nil
}

// ── DB helpers ────────────────────────────────────────────────────────────────

func insertRunRecord(db *sql.DB, startedAt time.Time, triggeredBy, storageRoot string) (int64, error) {
	now := startedAt.Unix()
	res, err := db.Exec(`
		INSERT INTO reconcile_runs
			(started_at, status, triggered_by, storage_root, created_at)
		VALUES (?, 'running', ?, ?, ?)`,
		now, triggeredBy, storageRoot, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func finaliseRunRecord(db *sql.DB, runID int64, status string, finishedAt, durationSecs int64, p *Progress, res *ScanResult) error {
	var backupCreated int
	var backupPath sql.NullString
	if res != nil && res.BackupCreated {
		backupCreated = 1
		backupPath = sql.NullString{String: res.BackupPath, Valid: true}
	}
	_, err := db.Exec(`
		UPDATE reconcile_runs
		SET status            = ?,
		    finished_at       = ?,
		    duration_seconds  = ?,
		    batches_total     = ?,
		    batches_scanned   = ?,
		    files_found       = ?,
		    new_entries       = ?,
		    preserved_entries = ?,
		    orphaned_files    = ?,
		    files_hashed      = ?,
		    cache_hits        = ?,
		    errors            = ?,
		    backup_created    = ?,
		    backup_path       = ?
		WHERE id = ?`,
		status, finishedAt, durationSecs,
		p.BatchesTotal.Load(),
		p.BatchesScanned.Load(),
		p.FilesFound.Load(),
		p.NewEntries.Load(),
		p.Preserved.Load(),
		p.Orphaned.Load(),
		p.FilesHashed.Load(),
		p.CacheHits.Load(),
		p.Errors.Load(),
		backupCreated, backupPath,
		runID)
	return err
}

func insertRunError(db *sql.DB, runID int64, path, stage, errMsg string) {
	_, err := db.Exec(`
		INSERT INTO reconcile_errors (run_id, path, stage, error, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, path, stage, errMsg, time.Now().Unix())
	if err != nil {
		slog.Warn("record reconcile error failed", "run", runID, "path", path, "error", err)
	}
}

func insertOrphans(db *sql.DB, runID int64, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO reconcile_orphans (run_id, path) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, p := range paths {
		if _, err := stmt.Exec(runID, p); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// progressReporter writes the current progress counters to reconcile_runs
// every second until stop is closed.
func progressReporter(ctx context.Context, db *sql.DB, runID int64, p *Progress, stop <-chan struct{}) {
	flush := func() {
		_, err := db.ExecContext(ctx, `
			UPDATE reconcile_runs
			SET batches_total   = ?,
			    batches_scanned = ?,
			    files_found     = ?,
			    files_hashed    = ?,
			    cache_hits      = ?,
			    errors          = ?
			WHERE id = ?`,
			p.BatchesTotal.Load(),
			p.BatchesScanned.Load(),
			p.FilesFound.Load(),
			p.FilesHashed.Load(),
			p.CacheHits.Load(),
			p.Errors.Load(),
			runID)
		if err != nil && ctx.Err() == nil {
			slog.Warn("progress reporter: update failed", "error", err)
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			flush()
		case <-stop:
			flush()
			return
		case <-ctx.Done():
			return
		}
	}
}
