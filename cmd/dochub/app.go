package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/eargollo/dochub/internal/config"
	"github.com/eargollo/dochub/internal/db"
	"github.com/eargollo/dochub/internal/fingerprint"
	"github.com/eargollo/dochub/internal/intake"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/reconcile"
	"github.com/eargollo/dochub/internal/records"
	"github.com/eargollo/dochub/internal/storage"
	"github.com/eargollo/dochub/internal/trash"
)

// app is the set of services every subcommand shares.
type app struct {
	db        *sql.DB
	root      *journal.Root
	records   *records.Store
	trash     *trash.Manager
	intake    *intake.Service
	reconcile *reconcile.Manager
}

// openApp opens the database, the storage root and its journal, and wires
// the services on top of them. Call close when done.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	// Runs left 'running' by a previous process can never finish.
	if err := reconcile.MarkStaleRunsFailed(database); err != nil {
		slog.Warn("mark stale reconcile runs", "error", err)
	}

	backend, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	root, err := journal.OpenRoot(ctx, backend)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("load journal: %w", err)
	}

	rec := records.New(database)
	if cfg.Records.XLSXPath != "" {
		if n, err := importRecords(ctx, rec, cfg.Records.XLSXPath, importOptions(cfg)); err != nil {
			slog.Warn("import batch records", "path", cfg.Records.XLSXPath, "error", err)
		} else {
			slog.Info("batch records imported", "path", cfg.Records.XLSXPath, "batches", n)
		}
	}

	var renderer fingerprint.PageRenderer
	if config.Enabled(cfg.Fingerprint.RenderFirstPage) {
		renderer = fingerprint.MagickRenderer{DPI: cfg.Fingerprint.RenderDPI}
	}
	gen := fingerprint.New(fingerprint.Options{
		MaxPDFPages:     cfg.Fingerprint.MaxPDFPages,
		RenderFirstPage: config.Enabled(cfg.Fingerprint.RenderFirstPage),
	}, renderer)

	trashMgr := trash.New(database, root, cfg.Trash.RetentionDays)
	svc := intake.New(root, gen, intake.Config{
		Thresholds: cfg.Classify.Thresholds,
		Visual:     config.Enabled(cfg.Classify.Visual),
	}, rec, trashMgr)

	mgr := reconcile.NewManager(database, root, reconcile.Options{
		HashFiles: config.Enabled(cfg.Reconcile.HashFiles),
		Hashers:   cfg.Reconcile.Hashers,
	}, rec.ValidIDs, cfg.Reconcile.BackupRetention)

	return &app{
		db:        database,
		root:      root,
		records:   rec,
		trash:     trashMgr,
		intake:    svc,
		reconcile: mgr,
	}, nil
}

func (a *app) close() error { return a.db.Close() }

func importOptions(cfg *config.Config) records.ImportOptions {
	return records.ImportOptions{
		Sheet:      cfg.Records.Sheet,
		Column:     cfg.Records.Column,
		HeaderRows: cfg.Records.HeaderRows,
	}
}

func importRecords(ctx context.Context, rec *records.Store, path string, opts records.ImportOptions) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	opts.Source = path
	return rec.ImportXLSX(ctx, f, opts)
}
