// Package records is the record source: the set of batch ids the business
// system knows about. Reconciliation uses it to tell orphaned folders from
// real batches and intake uses it to reject uploads to unknown batches.
//
// Ids are stored in SQLite and replaced wholesale by each import.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/eargollo/dochub/internal/journal"
)

// ErrNoRows is returned when an import yields no batch ids.
var ErrNoRows = errors.New("no batch ids found")

// Batch is one known-valid batch.
type Batch struct {
	ID         string    `json:"batchId"`
	Label      string    `json:"label,omitempty"`
	Source     string    `json:"source,omitempty"`
	ImportedAt time.Time `json:"importedAt"`
}

// ImportOptions selects where ids live in a spreadsheet.
type ImportOptions struct {
	Sheet       string // empty: first sheet
	Column      int    // 1-based column holding the batch id
	LabelColumn int    // 1-based, 0 for none
	HeaderRows  int    // leading rows to skip
	Source      string // recorded with each row
}

// Store persists known batches.
type Store struct {
	db *sql.DB
}

// New returns a Store backed by db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ReadXLSX parses batches from an .xlsx workbook. Blank ids are skipped,
// ids are canonicalized and later duplicates are dropped.
func ReadXLSX(r io.Reader, opts ImportOptions) ([]Batch, error) {
	if opts.Column <= 0 {
		opts.Column = 1
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	seen := make(map[string]bool)
	var out []Batch
	for i, row := range rows {
		if i < opts.HeaderRows || len(row) < opts.Column {
			continue
		}
		id := journal.CanonicalBatchID(row[opts.Column-1])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		b := Batch{ID: id, Source: opts.Source}
		if opts.LabelColumn > 0 && len(row) >= opts.LabelColumn {
			b.Label = row[opts.LabelColumn-1]
		}
		out = append(out, b)
	}
	return out, nil
}

// ImportXLSX replaces the stored batches with those read from r and returns
// how many were imported.
func (s *Store) ImportXLSX(ctx context.Context, r io.Reader, opts ImportOptions) (int, error) {
	batches, err := ReadXLSX(r, opts)
	if err != nil {
		return 0, err
	}
	if len(batches) == 0 {
		return 0, ErrNoRows
	}
	if err := s.Replace(ctx, batches); err != nil {
		return 0, err
	}
	slog.Info("batches imported", "count", len(batches), "source", opts.Source)
	return len(batches), nil
}

// Replace swaps the stored batches for batches in one transaction.
func (s *Store) Replace(ctx context.Context, batches []Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace batches: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM batches`); err != nil {
		return fmt.Errorf("replace batches: clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO batches (batch_id, label, source, imported_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace batches: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, b := range batches {
		id := journal.CanonicalBatchID(b.ID)
		if id == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, b.Label, b.Source, now); err != nil {
			return fmt.Errorf("replace batches: insert %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// ValidIDs returns every stored batch id. An empty set means no record
// source has been imported.
func (s *Store) ValidIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT batch_id FROM batches`)
	if err != nil {
		return nil, fmt.Errorf("valid ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Known reports whether id is acceptable for intake: true when the store is
// empty or holds id.
func (s *Store) Known(ctx context.Context, id string) (bool, error) {
	var total, match int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(batch_id = ?), 0) FROM batches`,
		journal.CanonicalBatchID(id)).Scan(&total, &match)
	if err != nil {
		return false, fmt.Errorf("lookup batch %q: %w", id, err)
	}
	return total == 0 || match > 0, nil
}

// List returns a page of batches ordered by id, plus the total count.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Batch, int, error) {
	if limit <= 0 {
		limit = 100
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, label, source, imported_at FROM batches ORDER BY batch_id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	out := []Batch{}
	for rows.Next() {
		var b Batch
		var at int64
		if err := rows.Scan(&b.ID, &b.Label, &b.Source, &at); err != nil {
			return nil, 0, err
		}
		b.ImportedAt = time.Unix(at, 0).UTC()
		out = append(out, b)
	}
	return out, total, rows.Err()
}
