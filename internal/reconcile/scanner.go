// Package reconcile rebuilds the upload journal from what actually exists in
// the storage root.
//
// The managed tree is walked exactly two levels deep: top-level directories
// are batch ids, second-level directories are document categories and every
// file below a category directory is journaled. The rebuilt journal is
// written once at the end so the durable copy is never half-written.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eargollo/dochub/internal/fingerprint"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/storage"
)

// Scan stages reported through ErrorReporter.
const (
	StageList    = "list"
	StageHash    = "hash"
	StageJournal = "journal"
)

// Options tunes a rebuild.
type Options struct {
	// HashFiles computes content hashes for rediscovered files so hash-exact
	// matching keeps working after recovery.
	HashFiles bool
	// Hashers bounds concurrent reads while hashing one batch directory.
	Hashers int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{HashFiles: true, Hashers: 4}
}

// Scanner performs journal rebuilds against one storage root.
type Scanner struct {
	root    *journal.Root
	cache   hashCache
	opts    Options
	now     func() time.Time
	onError ErrorReporter
}

// New creates a Scanner. db backs the hash cache and may be nil.
func New(root *journal.Root, db *sql.DB, opts Options) *Scanner {
	if opts.Hashers <= 0 {
		opts.Hashers = 1
	}
	return &Scanner{root: root, cache: hashCache{db: db}, opts: opts, now: time.Now}
}

// SetErrorReporter installs fn to observe per-file errors.
func (s *Scanner) SetErrorReporter(fn ErrorReporter) { s.onError = fn }

// Rebuild reconstructs the journal from the storage root.
//
// known is the set of valid batch ids; when it is nil or empty every
// discovered file is journaled and no orphans are reported. onProgress, when
// non-nil, is called after each top-level batch directory.
//
// Rebuild holds the journal writer lock for its whole duration. On
// cancellation or a fatal error the prior journal stays authoritative both
// in memory and in storage; the partial result is still returned.
func (s *Scanner) Rebuild(ctx context.Context, known map[string]struct{}, onProgress ProgressFunc) (*ScanResult, error) {
	return s.rebuild(ctx, known, onProgress, &Progress{})
}

func (s *Scanner) rebuild(ctx context.Context, known map[string]struct{}, onProgress ProgressFunc, p *Progress) (*ScanResult, error) {
	res := &ScanResult{OrphanedFiles: []string{}, Errors: []string{}}
	valid := canonicalSet(known)

	err := s.root.Exclusive(func(current *journal.Journal, backend storage.Backend) error {
		prior := current.Entries()
		priorByKey := make(map[journal.Key]journal.Entry, len(prior))
		for _, e := range prior {
			priorByKey[e.Key()] = e
		}

		if len(prior) > 0 {
			name, err := journal.WriteBackup(ctx, backend, prior, s.now())
			if err != nil {
				slog.Warn("reconcile: journal backup failed, continuing", "error", err)
			} else {
				res.BackupCreated = true
				res.BackupPath = name
			}
		}

		dirs, err := backend.ListSubdirectories(ctx, "")
		if err != nil {
			return fmt.Errorf("list storage root %s: %w", backend, err)
		}
		batches := dirs[:0:0]
		for _, d := range dirs {
			if !strings.HasPrefix(d, ".") {
				batches = append(batches, d)
			}
		}
		p.BatchesTotal.Store(int64(len(batches)))

		rebuilt := journal.New()
		for i, dir := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.scanBatch(ctx, backend, dir, valid, priorByKey, rebuilt, res, p)
			res.BatchesScanned = i + 1
			p.BatchesScanned.Store(int64(i + 1))
			if onProgress != nil {
				onProgress(Update{BatchID: journal.CanonicalBatchID(dir), Scanned: i + 1, Total: len(batches)})
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := rebuilt.Save(ctx, backend); err != nil {
			return fmt.Errorf("persist rebuilt journal: %w", err)
		}
		current.Replace(rebuilt.Entries())
		res.Persisted = true
		return nil
	})
	return res, err
}

// scanBatch journals (or orphans) every file under one batch directory.
func (s *Scanner) scanBatch(ctx context.Context, backend storage.Backend, dir string, valid map[string]struct{},
	prior map[journal.Key]journal.Entry, rebuilt *journal.Journal, res *ScanResult, p *Progress) {

	batchID := journal.CanonicalBatchID(dir)
	_, ok := valid[batchID]
	orphan := len(valid) > 0 && !ok

	catDirs, err := backend.ListSubdirectories(ctx, dir)
	if err != nil {
		s.report(res, p, dir, StageList, err)
		return
	}

	// Several spellings may name one category; the canonical folder claims
	// each slot first.
	sort.SliceStable(catDirs, func(i, j int) bool {
		return isCanonicalFolder(catDirs[i]) && !isCanonicalFolder(catDirs[j])
	})

	var pending []journal.Entry
	var infos []storage.FileInfo
	for _, catDir := range catDirs {
		cat, ok := journal.ParseCategory(catDir)
		if !ok {
			slog.Debug("reconcile: skipping unrecognised category folder", "batch", batchID, "folder", catDir)
			continue
		}
		folder := storage.Join(dir, catDir)
		files, err := backend.ListFiles(ctx, folder)
		if err != nil {
			s.report(res, p, folder, StageList, err)
			continue
		}
		for _, f := range files {
			res.FilesFound++
			p.FilesFound.Add(1)
			rel := storage.Join(folder, f.Name)
			if orphan {
				res.OrphanedFiles = append(res.OrphanedFiles, rel)
				p.Orphaned.Add(1)
				continue
			}
			e := journal.Entry{
				BatchID:      journal.BatchID(batchID),
				Category:     cat,
				FileName:     f.Name,
				UploadedAt:   f.ModTime.UTC(),
				RelativePath: rel,
				FileSize:     journal.SizePtr(f.Size),
			}
			if old, ok := prior[e.Key()]; ok {
				e.UploadedAt = old.UploadedAt
				if size, known := old.Size(); old.ContentHash != "" && (!known || size == f.Size) {
					e.ContentHash = old.ContentHash
				}
			}
			pending = append(pending, e)
			infos = append(infos, f)
		}
	}

	if s.opts.HashFiles && len(pending) > 0 {
		s.hashEntries(ctx, backend, pending, infos, res, p)
	}

	for _, e := range pending {
		if prev, dup := rebuilt.Get(e.Key()); dup {
			s.report(res, p, e.RelativePath, StageJournal,
				fmt.Errorf("slot already filled by %q", prev.RelativePath))
			continue
		}
		_, existed := prior[e.Key()]
		if err := rebuilt.Commit(e); err != nil {
			s.report(res, p, e.RelativePath, StageJournal, err)
			continue
		}
		if existed {
			res.ExistingEntriesPreserved++
			p.Preserved.Add(1)
		} else {
			res.NewEntriesAdded++
			p.NewEntries.Add(1)
		}
	}
}

// hashEntries fills ContentHash for pending entries, consulting the cache
// first. A failed hash leaves the entry without one; it is still journaled.
func (s *Scanner) hashEntries(ctx context.Context, backend storage.Backend, pending []journal.Entry,
	infos []storage.FileInfo, res *ScanResult, p *Progress) {

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Hashers)
	for i := range pending {
		e := &pending[i]
		fi := infos[i]
		g.Go(func() error {
			if h, ok := s.cache.lookup(gctx, e.RelativePath, fi.Size, fi.ModTime); ok {
				e.ContentHash = h
				p.CacheHits.Add(1)
				mu.Lock()
				res.CacheHits++
				mu.Unlock()
				return nil
			}
			data, err := backend.ReadFile(gctx, e.RelativePath)
			if err != nil {
				e.ContentHash = ""
				mu.Lock()
				s.report(res, p, e.RelativePath, StageHash, err)
				mu.Unlock()
				return nil
			}
			e.ContentHash = fingerprint.HashBytes(data)
			s.cache.store(gctx, e.RelativePath, fi.Size, fi.ModTime, e.ContentHash)
			p.FilesHashed.Add(1)
			mu.Lock()
			res.FilesHashed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scanner) report(res *ScanResult, p *Progress, path, stage string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	msg := res.addError(path, stage, err)
	p.Errors.Add(1)
	slog.Warn("reconcile: file error", "path", path, "stage", stage, "error", err)
	if s.onError != nil {
		s.onError(path, stage, msg)
	}
}

func isCanonicalFolder(name string) bool {
	c, ok := journal.ParseCategory(name)
	return ok && name == c.FolderName()
}

func canonicalSet(ids map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for id := range ids {
		if c := journal.CanonicalBatchID(id); c != "" {
			out[c] = struct{}{}
		}
	}
	return out
}
