package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/dochub/internal/api/handlers"
	"github.com/eargollo/dochub/internal/intake"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/reconcile"
	"github.com/eargollo/dochub/internal/records"
	"github.com/eargollo/dochub/internal/scheduler"
	"github.com/eargollo/dochub/internal/trash"
)

// Deps are the services the HTTP API exposes.
type Deps struct {
	DB        *sql.DB
	Root      *journal.Root
	Reconcile *reconcile.Manager
	Intake    *intake.Service
	Records   *records.Store
	Import    records.ImportOptions
	Trash     *trash.Manager
	Sched     *scheduler.Scheduler
	MaxUpload int64
	Version   string
}

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(addr string, d Deps) *Server {
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: Router(d)},
	}
}

// Router returns the API routes.
func Router(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{DB: d.DB, Manager: d.Reconcile, Sched: d.Sched, Root: d.Root, Version: d.Version}
	reconcileH := &handlers.ReconcileHandler{DB: d.DB, Manager: d.Reconcile}
	journalH := &handlers.JournalHandler{Root: d.Root}
	docsH := &handlers.DocumentsHandler{Intake: d.Intake, MaxBytes: d.MaxUpload}
	batchesH := &handlers.BatchesHandler{Records: d.Records, Defaults: d.Import}
	trashH := &handlers.TrashHandler{Trash: d.Trash}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Get("/journal", journalH.List)
		r.Get("/journal/{batch}", journalH.Batch)

		r.Get("/batches", batchesH.List)
		r.Post("/batches/import", batchesH.Import)
		r.Post("/batches/{batch}/{category}/check", docsH.Check)
		r.Post("/batches/{batch}/{category}/documents", docsH.Submit)

		r.Post("/reconcile", reconcileH.Create)
		r.Get("/reconcile", reconcileH.List)
		r.Delete("/reconcile/current", reconcileH.Cancel)
		r.Get("/reconcile/{id}", reconcileH.Get)

		r.Get("/trash", trashH.List)
		r.Post("/trash/{id}/restore", trashH.Restore)
		r.Delete("/trash", trashH.PurgeAll)
	})

	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
