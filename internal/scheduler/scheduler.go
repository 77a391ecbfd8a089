// Package scheduler runs the periodic jobs of the hub on cron expressions:
// reconciliation of the journal against storage and the trash auto-purge.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPurgeSchedule runs the trash auto-purge daily at 03:00.
const DefaultPurgeSchedule = "0 3 * * *"

// Reconciler is the part of the reconcile manager the scheduler drives.
type Reconciler interface {
	Start(ctx context.Context, triggeredBy string) error
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc func(ctx context.Context, triggeredBy string) error

func (f ReconcilerFunc) Start(ctx context.Context, triggeredBy string) error { return f(ctx, triggeredBy) }

// Purger removes expired trash.
type Purger interface {
	AutoPurge(ctx context.Context) error
}

// ErrBusy is returned by a Reconciler that is already running; the
// scheduled tick is skipped.
var ErrBusy = errors.New("reconciler busy")

// Scheduler wraps robfig/cron and tracks the reconcile job and its next run.
type Scheduler struct {
	mu       sync.RWMutex
	c        *cron.Cron
	ctx      context.Context
	entryID  cron.EntryID
	cronExpr string
}

// New creates a stopped Scheduler. Jobs receive ctx. Call Start to activate it.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		c:   cron.New(),
		ctx: ctx,
	}
}

// SetReconcile replaces the reconcile job. An empty expression removes it,
// leaving reconciliation manual only.
func (s *Scheduler) SetReconcile(expr string, r Reconciler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expr == "" {
		if s.entryID != 0 {
			s.c.Remove(s.entryID)
		}
		s.entryID = 0
		s.cronExpr = ""
		slog.Info("scheduler: reconcile job cleared")
		return nil
	}

	id, err := s.c.AddFunc(expr, func() {
		err := r.Start(s.ctx, "schedule")
		switch {
		case errors.Is(err, ErrBusy):
			slog.Info("scheduler: reconcile already running, tick skipped")
		case err != nil:
			slog.Error("scheduler: start reconcile", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}
	s.entryID = id
	s.cronExpr = expr
	slog.Info("scheduler: reconcile job set", "cron", expr)
	return nil
}

// AddPurge adds the trash auto-purge job.
func (s *Scheduler) AddPurge(expr string, p Purger) error {
	if expr == "" {
		expr = DefaultPurgeSchedule
	}
	_, err := s.c.AddFunc(expr, func() {
		if err := p.AutoPurge(s.ctx); err != nil {
			slog.Error("scheduler: trash auto-purge", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	slog.Info("scheduler: background job added", "job", "trash-purge", "cron", expr)
	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// NextRunAt returns the next scheduled reconcile, or nil if none is set.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current reconcile cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}
