package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	internaldb "github.com/eargollo/dochub/internal/db"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/storage"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

// mustRoot creates a local storage root in a temp dir and opens its journal.
func mustRoot(tb testing.TB) (*journal.Root, string) {
	tb.Helper()
	dir := tb.TempDir()
	backend, err := storage.NewLocal(dir)
	if err != nil {
		tb.Fatalf("new local backend: %v", err)
	}
	root, err := journal.OpenRoot(context.Background(), backend)
	if err != nil {
		tb.Fatalf("open root: %v", err)
	}
	return root, dir
}

// faultyBackend fails backup writes and reads of selected paths.
type faultyBackend struct {
	storage.Backend
	failBackups bool
	failReads   map[string]bool
}

func (f *faultyBackend) WriteFile(ctx context.Context, folder, name string, data []byte) (string, error) {
	if f.failBackups && journal.IsBackupName(name) {
		return "", errors.New("disk full")
	}
	return f.Backend.WriteFile(ctx, folder, name, data)
}

func (f *faultyBackend) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if f.failReads[p] {
		return nil, errors.New("permission denied")
	}
	return f.Backend.ReadFile(ctx, p)
}

// mustFaultyRoot is mustRoot with the backend wrapped in a faultyBackend.
func mustFaultyRoot(tb testing.TB) (*journal.Root, *faultyBackend, string) {
	tb.Helper()
	dir := tb.TempDir()
	local, err := storage.NewLocal(dir)
	if err != nil {
		tb.Fatalf("new local backend: %v", err)
	}
	fb := &faultyBackend{Backend: local, failReads: map[string]bool{}}
	root, err := journal.OpenRoot(context.Background(), fb)
	if err != nil {
		tb.Fatalf("open root: %v", err)
	}
	return root, fb, dir
}

// writeTree writes content at the slash-separated rel path under dir and
// sets its mtime.
func writeTree(tb testing.TB, dir, rel, content string, mtime time.Time) {
	tb.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		tb.Fatalf("mkdir %q: %v", p, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %q: %v", p, err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		tb.Fatalf("chtimes %q: %v", p, err)
	}
}

// noErrors is an ErrorReporter that fails the test if invoked.
func noErrors(tb testing.TB) ErrorReporter {
	return func(path, stage, errMsg string) {
		tb.Errorf("unexpected scan error: path=%q stage=%q err=%q", path, stage, errMsg)
	}
}

func set(ids ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
