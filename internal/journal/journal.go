// Package journal maintains the durable record of which physical file fills
// each (batch, category, file name) slot under a storage root.
//
// The journal is a single JSON document stored beside the batch directories.
// It is rewritten in full on every Save; callers serialize Commit+Save pairs
// against one storage root (one writer per root is a precondition, not
// something the package enforces).
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/eargollo/dochub/internal/storage"
)

// FileName is the journal document's name at the storage root.
const FileName = ".dochub-journal.json"

// Journal is an in-memory, insertion-ordered view of the persisted journal.
// Methods are safe for concurrent use; the persistence contract above still
// applies.
type Journal struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{entries: make(map[string]Entry)}
}

// Lookup reports whether an entry exists at the given slot.
func (j *Journal) Lookup(batchID string, c Category, fileName string) bool {
	_, ok := j.Get(Key{BatchID: batchID, Category: c, FileName: fileName})
	return ok
}

// Get returns the entry stored under k.
func (j *Journal) Get(k Key) (Entry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	e, ok := j.entries[k.String()]
	return e, ok
}

// Commit stores e, replacing any entry with the same key as a whole record.
// A replaced entry keeps its position in enumeration order.
func (j *Journal) Commit(e Entry) error {
	e.BatchID = BatchID(CanonicalBatchID(string(e.BatchID)))
	if e.BatchID == "" {
		return errors.New("journal commit: empty batch id")
	}
	if !e.Category.Valid() {
		return fmt.Errorf("journal commit: invalid category %d", int(e.Category))
	}
	if e.FileName == "" {
		return errors.New("journal commit: empty file name")
	}

	k := e.Key().String()
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.entries[k]; !exists {
		j.order = append(j.order, k)
	}
	j.entries[k] = e
	return nil
}

// Entries returns every entry in insertion order.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, 0, len(j.order))
	for _, k := range j.order {
		out = append(out, j.entries[k])
	}
	return out
}

// EntriesForBatch returns the batch's entries in insertion order.
func (j *Journal) EntriesForBatch(batchID string) []Entry {
	id := BatchID(CanonicalBatchID(batchID))
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Entry
	for _, k := range j.order {
		if e := j.entries[k]; e.BatchID == id {
			out = append(out, e)
		}
	}
	return out
}

// EntriesFor returns the entries of one batch and category in insertion order.
func (j *Journal) EntriesFor(batchID string, c Category) []Entry {
	var out []Entry
	for _, e := range j.EntriesForBatch(batchID) {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}

// CountForBatchAndCategory returns how many files fill the given slot.
func (j *Journal) CountForBatchAndCategory(batchID string, c Category) int {
	return len(j.EntriesFor(batchID, c))
}

// BatchIDs returns the distinct batch ids present, sorted.
func (j *Journal) BatchIDs() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	seen := make(map[BatchID]struct{})
	var ids []string
	for _, e := range j.entries {
		if _, ok := seen[e.BatchID]; !ok {
			seen[e.BatchID] = struct{}{}
			ids = append(ids, string(e.BatchID))
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Reset removes every entry.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make(map[string]Entry)
	j.order = nil
}

// Replace swaps the journal's contents for entries, in order. Later
// duplicates of a key win.
func (j *Journal) Replace(entries []Entry) {
	fresh := New()
	for _, e := range entries {
		if err := fresh.Commit(e); err != nil {
			slog.Warn("journal: dropping invalid entry", "file", e.FileName, "error", err)
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = fresh.entries
	j.order = fresh.order
}

type state struct {
	entries map[string]Entry
	order   []string
}

func (j *Journal) snapshot() state {
	j.mu.RLock()
	defer j.mu.RUnlock()
	st := state{entries: make(map[string]Entry, len(j.entries)), order: slices.Clone(j.order)}
	for k, e := range j.entries {
		st.entries[k] = e
	}
	return st
}

func (j *Journal) restore(st state) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = st.entries
	j.order = st.order
}

// Load replaces the in-memory state with the journal stored at root.
// A missing journal is an empty journal. A malformed journal is logged and
// also treated as empty; reconciliation is the recovery path for it.
// Only storage failures (permissions, unreachable backend) are returned.
func (j *Journal) Load(ctx context.Context, root storage.Backend) error {
	data, err := root.ReadFile(ctx, FileName)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Info("journal load: no journal yet", "root", root.String())
		j.Reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("journal load: %w", err)
	}

	entries, err := Decode(data)
	if err != nil {
		slog.Warn("journal load: malformed file, starting empty", "root", root.String(), "error", err)
		j.Reset()
		return nil
	}
	j.Replace(entries)
	slog.Debug("journal loaded", "root", root.String(), "entries", j.Len())
	return nil
}

// Save rewrites the whole journal at root in a single write.
func (j *Journal) Save(ctx context.Context, root storage.Backend) error {
	data, err := Encode(j.Entries())
	if err != nil {
		return fmt.Errorf("journal save: %w", err)
	}
	if _, err := root.WriteFile(ctx, "", FileName, data); err != nil {
		return fmt.Errorf("journal save: %w", err)
	}
	return nil
}

// Encode serializes entries as the journal's JSON array.
func Encode(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// Decode parses a journal JSON array.
func Decode(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
