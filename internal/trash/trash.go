// Package trash keeps the bytes of documents that a replace is about to
// overwrite, so a wrong "replace" decision can be undone until the item
// expires.
//
// Trashed content lives under .trash/ in the storage root itself; the
// reconciliation scanner skips dot-prefixed folders so it never journals it.
package trash

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/eargollo/dochub/internal/fingerprint"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/storage"
)

// Dir is the storage-root folder that holds trashed content.
const Dir = ".trash"

// ErrNotTrashed is returned when the item is not in 'trashed' state (not found,
// already purged, or already restored).
var ErrNotTrashed = errors.New("trash item not found or already purged/restored")

// ErrRestoreConflict is returned when the restore target path is already occupied.
type ErrRestoreConflict struct {
	Path string
}

func (e *ErrRestoreConflict) Error() string {
	return fmt.Sprintf("a file already exists at %q", e.Path)
}

// Item is one row of the trash table.
type Item struct {
	ID           int64            `json:"id"`
	BatchID      string           `json:"batchId"`
	Category     journal.Category `json:"category"`
	FileName     string           `json:"fileName"`
	OriginalPath string           `json:"originalPath"`
	TrashPath    string           `json:"trashPath"`
	FileSize     int64            `json:"fileSize"`
	Size         string           `json:"size"`
	ContentHash  string           `json:"contentHash,omitempty"`
	TrashedAt    time.Time        `json:"trashedAt"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	Status       string           `json:"status"`

	// SwappedOut is set by Restore when the document it displaced was
	// trashed.
	SwappedOut int64 `json:"swappedOut,omitempty"`
}

// Manager moves documents to, from and out of the trash.
type Manager struct {
	db            *sql.DB
	root          *journal.Root
	retentionDays int
	now           func() time.Time
}

// New creates a trash Manager for the storage root behind root.
func New(db *sql.DB, root *journal.Root, retentionDays int) *Manager {
	return &Manager{db: db, root: root, retentionDays: retentionDays, now: time.Now}
}

// Keep copies the stored bytes of e into the trash and records it. The
// original stays in place for the caller to overwrite. Returns the trash row
// ID.
func (m *Manager) Keep(ctx context.Context, e journal.Entry) (int64, error) {
	backend := m.root.Backend()
	data, err := backend.ReadFile(ctx, e.RelativePath)
	if err != nil {
		return 0, fmt.Errorf("read %q: %w", e.RelativePath, err)
	}

	now := m.now()
	folder, name := m.buildTrashPath(now, e.FileName)
	trashPath, err := backend.WriteFile(ctx, folder, name, data)
	if err != nil {
		return 0, fmt.Errorf("copy to trash: %w", err)
	}

	hash := e.ContentHash
	if hash == "" {
		hash = fingerprint.HashBytes(data)
	}
	expiresAt := now.Add(time.Duration(m.retentionDays) * 24 * time.Hour)

	res, err := m.db.ExecContext(ctx, `
		INSERT INTO trash
			(batch_id, category, file_name, original_path, trash_path, file_size,
			 content_hash, trashed_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'trashed')`,
		string(e.BatchID), e.Category.Label(), e.FileName, e.RelativePath, trashPath,
		int64(len(data)), hash, now.Unix(), expiresAt.Unix())
	if err != nil {
		if derr := backend.Delete(ctx, trashPath); derr != nil {
			slog.Error("rollback trash copy failed", "path", trashPath, "error", derr)
		}
		return 0, fmt.Errorf("insert trash record: %w", err)
	}

	id, _ := res.LastInsertId()
	slog.Info("file trashed", "path", e.RelativePath, "trash_id", id,
		"size", humanize.Bytes(uint64(len(data))), "expires_at", expiresAt.Format(time.RFC3339))
	return id, nil
}

// Restore writes a trashed document back to its original path and journals
// it again. When the path holds the document that replaced it, that
// document is trashed in turn and its trash ID is reported in SwappedOut.
// Any other occupant fails with *ErrRestoreConflict.
func (m *Manager) Restore(ctx context.Context, trashID int64) (*Item, error) {
	it, err := m.Get(ctx, trashID)
	if err != nil {
		return nil, err
	}
	if it.Status != "trashed" {
		return nil, ErrNotTrashed
	}

	backend := m.root.Backend()
	var swapped int64
	if _, err := backend.ReadFile(ctx, it.OriginalPath); err == nil {
		current, ok := m.root.Journal().Get(journal.Key{BatchID: it.BatchID, Category: it.Category, FileName: it.FileName})
		if !ok || current.RelativePath != it.OriginalPath {
			return nil, &ErrRestoreConflict{Path: it.OriginalPath}
		}
		if swapped, err = m.Keep(ctx, current); err != nil {
			return nil, fmt.Errorf("keep replacement: %w", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check restore target: %w", err)
	}

	data, err := backend.ReadFile(ctx, it.TrashPath)
	if err != nil {
		return nil, fmt.Errorf("read trashed file: %w", err)
	}
	dir, name := path.Split(it.OriginalPath)
	if _, err := backend.WriteFile(ctx, path.Clean(dir), name, data); err != nil {
		return nil, fmt.Errorf("restore file: %w", err)
	}

	now := m.now()
	err = m.root.Commit(ctx, journal.Entry{
		BatchID:      journal.BatchID(it.BatchID),
		Category:     it.Category,
		FileName:     it.FileName,
		UploadedAt:   now.UTC(),
		RelativePath: it.OriginalPath,
		FileSize:     journal.SizePtr(int64(len(data))),
		ContentHash:  it.ContentHash,
	})
	if err != nil {
		return nil, fmt.Errorf("journal restored file: %w", err)
	}

	if _, err := m.db.ExecContext(ctx,
		`UPDATE trash SET status='restored', restored_at=? WHERE id=?`,
		now.Unix(), trashID,
	); err != nil {
		slog.Error("update trash status after restore", "trash_id", trashID, "error", err)
	}
	if err := backend.Delete(ctx, it.TrashPath); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("remove restored trash copy", "path", it.TrashPath, "error", err)
	}

	slog.Info("file restored", "path", it.OriginalPath, "trash_id", trashID, "swapped_out", swapped)
	it.Status = "restored"
	it.SwappedOut = swapped
	return it, nil
}

// Get returns one trash row.
func (m *Manager) Get(ctx context.Context, trashID int64) (*Item, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM trash WHERE id = ?`, trashID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotTrashed
	}
	if err != nil {
		return nil, fmt.Errorf("lookup trash item %d: %w", trashID, err)
	}
	return &it, nil
}

// List returns items still in the trash, newest first.
func (m *Manager) List(ctx context.Context) ([]Item, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM trash WHERE status = 'trashed' ORDER BY trashed_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query trash: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trash row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// PurgeAll immediately purges all active trash items (trigger = "user").
func (m *Manager) PurgeAll(ctx context.Context) (count int64, bytesFreed int64, err error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, original_path, trash_path, file_size, content_hash
		 FROM trash WHERE status = 'trashed'`)
	if err != nil {
		return 0, 0, fmt.Errorf("query trash: %w", err)
	}
	return m.purgeRows(ctx, rows, "user")
}

// AutoPurge purges all trash items whose expires_at is in the past (trigger = "auto").
// Intended to be called by the scheduler.
func (m *Manager) AutoPurge(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, original_path, trash_path, file_size, content_hash
		 FROM trash WHERE status = 'trashed' AND expires_at < ?`,
		m.now().Unix())
	if err != nil {
		return fmt.Errorf("query expired trash: %w", err)
	}
	count, bytes, err := m.purgeRows(ctx, rows, "auto")
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Info("auto-purge complete", "files_purged", count, "freed", humanize.Bytes(uint64(bytes)))
	}
	return nil
}

// ── private helpers ────────────────────────────────────────────────────────

const itemColumns = `id, batch_id, category, file_name, original_path, trash_path,
	file_size, content_hash, trashed_at, expires_at, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		it        Item
		category  string
		trashedAt int64
		expiresAt int64
	)
	err := row.Scan(&it.ID, &it.BatchID, &category, &it.FileName, &it.OriginalPath, &it.TrashPath,
		&it.FileSize, &it.ContentHash, &trashedAt, &expiresAt, &it.Status)
	if err != nil {
		return Item{}, err
	}
	it.Category, _ = journal.ParseCategory(category)
	it.Size = humanize.Bytes(uint64(it.FileSize))
	it.TrashedAt = time.Unix(trashedAt, 0).UTC()
	it.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return it, nil
}

// buildTrashPath returns a unique folder and name inside the trash for a
// file name. Format: .trash/YYYY-MM-DD/<unix_nano>_<name>
func (m *Manager) buildTrashPath(now time.Time, name string) (string, string) {
	return storage.Join(Dir, now.Format("2006-01-02")), fmt.Sprintf("%d_%s", now.UnixNano(), name)
}

type purgeItem struct {
	id           int64
	originalPath string
	trashPath    string
	fileSize     int64
	contentHash  string
}

func (m *Manager) purgeRows(ctx context.Context, rows *sql.Rows, trigger string) (count int64, bytesFreed int64, err error) {
	defer rows.Close()

	var items []purgeItem
	for rows.Next() {
		var it purgeItem
		if err := rows.Scan(&it.id, &it.originalPath, &it.trashPath, &it.fileSize, &it.contentHash); err != nil {
			return count, bytesFreed, fmt.Errorf("scan trash row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return count, bytesFreed, err
	}
	rows.Close()

	backend := m.root.Backend()
	now := m.now().Unix()
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}

		// Treat "already gone" as success.
		if rerr := backend.Delete(ctx, it.trashPath); rerr != nil && !errors.Is(rerr, storage.ErrNotFound) {
			slog.Warn("purge: remove file failed", "path", it.trashPath, "error", rerr)
			continue // leave DB row in 'trashed' to retry later
		}

		// Append-only deletion log.
		_, _ = m.db.ExecContext(ctx,
			`INSERT INTO deletion_log (deleted_at, original_path, file_size, content_hash, purge_trigger, trash_id)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			now, it.originalPath, it.fileSize, it.contentHash, trigger, it.id)

		if _, dbErr := m.db.ExecContext(ctx,
			`UPDATE trash SET status='purged', purged_at=?, purge_trigger=? WHERE id=?`,
			now, trigger, it.id,
		); dbErr != nil {
			slog.Error("purge: update trash status", "trash_id", it.id, "error", dbErr)
		}

		count++
		bytesFreed += it.fileSize
	}

	return count, bytesFreed, nil
}
