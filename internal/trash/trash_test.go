package trash

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/dochub/internal/classify"
	internaldb "github.com/eargollo/dochub/internal/db"
	"github.com/eargollo/dochub/internal/fingerprint"
	"github.com/eargollo/dochub/internal/intake"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/resolve"
	"github.com/eargollo/dochub/internal/storage"
)

func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, err := internaldb.Open(filepath.Join(tb.TempDir(), "test.db"))
	require.NoError(tb, err)
	require.NoError(tb, internaldb.RunMigrations(db))
	tb.Cleanup(func() { db.Close() })
	return db
}

// setup returns a trash manager over a temp storage root holding one
// journaled document.
func setup(t *testing.T) (*Manager, *journal.Root, string, journal.Entry) {
	t.Helper()
	dir := t.TempDir()
	backend, err := storage.NewLocal(dir)
	require.NoError(t, err)
	root, err := journal.OpenRoot(context.Background(), backend)
	require.NoError(t, err)

	ctx := context.Background()
	name := journal.StoredName("6024", journal.PurchaseOrder, "po.pdf")
	rel, err := backend.WriteFile(ctx, journal.FolderPath("6024", journal.PurchaseOrder), name, []byte("original"))
	require.NoError(t, err)
	e := journal.Entry{
		BatchID:      "6024",
		Category:     journal.PurchaseOrder,
		FileName:     name,
		UploadedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RelativePath: rel,
		FileSize:     journal.SizePtr(8),
	}
	require.NoError(t, root.Commit(ctx, e))
	return New(mustOpenDB(t), root, 30), root, dir, e
}

func TestKeepCopiesIntoTrash(t *testing.T) {
	m, _, dir, e := setup(t)
	ctx := context.Background()

	id, err := m.Keep(ctx, e)
	require.NoError(t, err)

	it, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "trashed", it.Status)
	assert.Equal(t, e.RelativePath, it.OriginalPath)
	assert.Equal(t, journal.PurchaseOrder, it.Category)
	assert.Equal(t, int64(8), it.FileSize)
	assert.NotEmpty(t, it.ContentHash)

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(it.TrashPath)))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.Contains(t, it.TrashPath, Dir+"/")

	// The original stays in place for the caller to overwrite.
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(e.RelativePath)))
	assert.NoError(t, err)
}

func TestRestoreConflictWhenOccupied(t *testing.T) {
	m, root, _, e := setup(t)
	ctx := context.Background()

	id, err := m.Keep(ctx, e)
	require.NoError(t, err)
	// The file on disk is no longer the journaled occupant of the slot.
	root.Journal().Replace(nil)

	_, err = m.Restore(ctx, id)
	var conflict *ErrRestoreConflict
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, e.RelativePath, conflict.Path)
}

func TestRestoreWritesBackAndJournals(t *testing.T) {
	m, root, dir, e := setup(t)
	ctx := context.Background()

	id, err := m.Keep(ctx, e)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, filepath.FromSlash(e.RelativePath))))

	it, err := m.Restore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "restored", it.Status)

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(e.RelativePath)))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.True(t, root.Journal().Lookup("6024", journal.PurchaseOrder, e.FileName))

	_, err = m.Restore(ctx, id)
	assert.ErrorIs(t, err, ErrNotTrashed)
}

func TestRestoreUndoesReplace(t *testing.T) {
	m, root, dir, e := setup(t)
	ctx := context.Background()
	svc := intake.New(root, fingerprint.New(fingerprint.Options{}, nil),
		intake.Config{Thresholds: classify.DefaultThresholds()}, nil, m)

	results, err := svc.Submit(ctx, "6024", "Purchase Order",
		[]intake.Upload{{Name: e.FileName, Data: []byte("replacement")}},
		resolve.Decision{Bulk: classify.ActionReplace})
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	require.Empty(t, r.Error)
	require.Equal(t, resolve.OutcomeOverwrite, r.Outcome)
	require.NotZero(t, r.TrashID)

	it, err := m.Restore(ctx, r.TrashID)
	require.NoError(t, err)
	assert.Equal(t, "restored", it.Status)
	require.NotZero(t, it.SwappedOut)

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(e.RelativePath)))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	restored, ok := root.Journal().Get(e.Key())
	require.True(t, ok)
	assert.Equal(t, int64(8), *restored.FileSize)
	assert.Equal(t, 1, root.Journal().Len())

	// The replacement is itself recoverable.
	swapped, err := m.Get(ctx, it.SwappedOut)
	require.NoError(t, err)
	assert.Equal(t, "trashed", swapped.Status)
	kept, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(swapped.TrashPath)))
	require.NoError(t, err)
	assert.Equal(t, "replacement", string(kept))

	items, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, it.SwappedOut, items[0].ID)
}

func TestAutoPurgeRemovesExpiredOnly(t *testing.T) {
	m, _, dir, e := setup(t)
	ctx := context.Background()

	id, err := m.Keep(ctx, e)
	require.NoError(t, err)
	it, err := m.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, m.AutoPurge(ctx))
	items, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1, "unexpired item purged")

	m.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	require.NoError(t, m.AutoPurge(ctx))

	items, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(it.TrashPath)))
	assert.True(t, os.IsNotExist(err))

	var trigger string
	require.NoError(t, m.db.QueryRow(`SELECT purge_trigger FROM deletion_log WHERE trash_id = ?`, id).Scan(&trigger))
	assert.Equal(t, "auto", trigger)
}

func TestPurgeAll(t *testing.T) {
	m, _, _, e := setup(t)
	ctx := context.Background()

	_, err := m.Keep(ctx, e)
	require.NoError(t, err)
	_, err = m.Keep(ctx, e)
	require.NoError(t, err)

	count, freed, err := m.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(16), freed)
}
