package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eargollo/dochub/internal/api"
	"github.com/eargollo/dochub/internal/reconcile"
	"github.com/eargollo/dochub/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("dochub starting",
			"version", version,
			"log_level", cfg.LogLevel,
			"http_addr", cfg.HTTPAddr,
			"db_path", cfg.DBPath,
			"storage", cfg.Storage.Backend)

		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		sched := scheduler.New(ctx)
		if err := sched.SetReconcile(cfg.Reconcile.Schedule, scheduler.ReconcilerFunc(
			func(ctx context.Context, triggeredBy string) error {
				_, err := a.reconcile.Start(ctx, triggeredBy)
				if errors.Is(err, reconcile.ErrAlreadyRunning) {
					return scheduler.ErrBusy
				}
				return err
			})); err != nil {
			slog.Warn("invalid reconcile schedule", "expr", cfg.Reconcile.Schedule, "error", err)
		}
		if err := sched.AddPurge(scheduler.DefaultPurgeSchedule, a.trash); err != nil {
			slog.Warn("failed to register auto-purge job", "error", err)
		}
		sched.Start()
		defer sched.Stop()

		srv := api.New(cfg.HTTPAddr, api.Deps{
			DB:        a.db,
			Root:      a.root,
			Reconcile: a.reconcile,
			Intake:    a.intake,
			Records:   a.records,
			Import:    importOptions(cfg),
			Trash:     a.trash,
			Sched:     sched,
			MaxUpload: cfg.MaxUploadBytes(),
			Version:   version,
		})
		if err := srv.Run(ctx); err != nil {
			return err
		}
		slog.Info("dochub stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
