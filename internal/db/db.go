// Package db opens the hub's SQLite database, which holds everything that is
// not the journal itself: reconciliation history, the hash cache, the known
// batch ids and the trash index.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pragmas are applied by the driver to every connection it opens.
var pragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(ON)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// Open opens (or creates) the SQLite database at path in WAL mode with a
// single connection.
func Open(path string) (*sql.DB, error) {
	q := url.Values{"_pragma": pragmas}
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Single writer prevents SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return db, nil
}

// RunMigrations applies all pending goose migrations from the embedded FS.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	goose.SetLogger(gooseLogger{})
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// SchemaVersion returns the latest applied migration.
func SchemaVersion(db *sql.DB) (int64, error) {
	v, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return v, nil
}

// gooseLogger sends migration output to slog at debug level.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	slog.Debug("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (gooseLogger) Fatalf(format string, v ...any) {
	slog.Error("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}
