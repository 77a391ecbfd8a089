package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/eargollo/dochub/internal/storage"
)

// Root pairs the journal with the storage root it is persisted to and
// serializes every mutate-then-save sequence issued through it, so one
// commit+save completes before the next begins. It does not coordinate with
// other processes: one process per storage root is a precondition.
type Root struct {
	backend storage.Backend
	journal *Journal
	mu      sync.Mutex
}

// OpenRoot loads the journal stored at backend.
func OpenRoot(ctx context.Context, backend storage.Backend) (*Root, error) {
	j := New()
	if err := j.Load(ctx, backend); err != nil {
		return nil, err
	}
	return &Root{backend: backend, journal: j}, nil
}

// Journal returns the in-memory journal for reads.
func (r *Root) Journal() *Journal { return r.journal }

// Backend returns the storage root.
func (r *Root) Backend() storage.Backend { return r.backend }

// Commit stores entries and persists the journal before returning. Either
// every entry is committed and saved or the in-memory journal is left as it
// was.
func (r *Root) Commit(ctx context.Context, entries ...Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.journal.snapshot()
	for _, e := range entries {
		if err := r.journal.Commit(e); err != nil {
			r.journal.restore(snap)
			return err
		}
	}
	if err := r.journal.Save(ctx, r.backend); err != nil {
		r.journal.restore(snap)
		return fmt.Errorf("commit %d entries: %w", len(entries), err)
	}
	return nil
}

// Exclusive runs fn while holding the writer lock. Long-running rewrites
// such as reconciliation use it so no commit interleaves with them.
func (r *Root) Exclusive(fn func(j *Journal, backend storage.Backend) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.journal, r.backend)
}

// Reload re-reads the journal from storage.
func (r *Root) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.journal.Load(ctx, r.backend)
}
