// Package intake runs uploads through the duplicate pipeline: fingerprint,
// classify against the journal, resolve with the user's decision, write to
// storage and commit the journal.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eargollo/dochub/internal/classify"
	"github.com/eargollo/dochub/internal/fingerprint"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/resolve"
)

var (
	ErrUnknownCategory = errors.New("unknown document category")
	ErrEmptyBatchID    = errors.New("batch id is required")
	ErrUnknownBatch    = errors.New("batch id is not a known batch")
	ErrNoFiles         = errors.New("no files supplied")
)

// Upload is one file offered for a batch/category. ReadErr is set when the
// caller could not read the file; such a file is never reported as a
// duplicate and cannot be stored.
type Upload struct {
	ID      string
	Name    string
	Data    []byte
	ReadErr error
}

// FileCheck is the classification of one upload.
type FileCheck struct {
	FileID      string                   `json:"fileId"`
	Name        string                   `json:"name"`
	StoredName  string                   `json:"storedName"`
	Size        string                   `json:"size"`
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	Candidates  []classify.Candidate     `json:"candidates"`
	Error       string                   `json:"error,omitempty"`
}

// Duplicate reports whether any candidate was found.
func (c FileCheck) Duplicate() bool { return len(c.Candidates) > 0 }

// Result is what happened to one upload on Submit.
type Result struct {
	FileID     string              `json:"fileId"`
	Name       string              `json:"name"`
	Outcome    resolve.Outcome     `json:"outcome,omitempty"`
	TargetName string              `json:"targetName,omitempty"`
	Path       string              `json:"path,omitempty"`
	TrashID    int64               `json:"trashId,omitempty"`
	Candidate  *classify.Candidate `json:"candidate,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// BatchChecker validates batch ids against the record source.
type BatchChecker interface {
	Known(ctx context.Context, batchID string) (bool, error)
}

// Trash keeps the bytes of a document about to be overwritten.
type Trash interface {
	Keep(ctx context.Context, e journal.Entry) (int64, error)
}

// Config wires a Service.
type Config struct {
	Thresholds classify.Thresholds
	Visual     bool
	Workers    int // concurrent fingerprinting; 0 = GOMAXPROCS
}

// Service is the upload pipeline for one storage root.
type Service struct {
	root    *journal.Root
	gen     *fingerprint.Generator
	cfg     Config
	batches BatchChecker
	trash   Trash
	now     func() time.Time
}

// New creates a Service. batches and trash may be nil: every batch id is
// then accepted and replaced content is not kept.
func New(root *journal.Root, gen *fingerprint.Generator, cfg Config, batches BatchChecker, trash Trash) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Service{root: root, gen: gen, cfg: cfg, batches: batches, trash: trash, now: time.Now}
}

// Check classifies uploads without storing anything.
func (s *Service) Check(ctx context.Context, batchID, category string, uploads []Upload) ([]FileCheck, error) {
	batchID, cat, err := s.validate(ctx, batchID, category, uploads)
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, batchID, cat, uploads), nil
}

// Submit stores uploads according to d. Per-file failures are reported in
// the file's Result; only validation errors fail the whole call.
func (s *Service) Submit(ctx context.Context, batchID, category string, uploads []Upload, d resolve.Decision) ([]Result, error) {
	batchID, cat, err := s.validate(ctx, batchID, category, uploads)
	if err != nil {
		return nil, err
	}
	checks := s.analyze(ctx, batchID, cat, uploads)
	d = decisionByID(d, checks)

	results := make([]Result, len(checks))
	byID := make(map[string]int, len(checks))
	var files []resolve.File
	var candidates []classify.Candidate
	for i, c := range checks {
		results[i] = Result{FileID: c.FileID, Name: c.Name}
		byID[c.FileID] = i
		if c.Error != "" {
			results[i].Error = c.Error
			continue
		}
		files = append(files, resolve.File{ID: c.FileID, TargetName: c.StoredName})
		candidates = append(candidates, c.Candidates...)
	}

	policy := resolve.New(s.root.Journal(), batchID, cat)
	for _, disp := range policy.Resolve(files, candidates, d) {
		i := byID[disp.FileID]
		r := &results[i]
		r.Outcome = disp.Outcome
		r.TargetName = disp.TargetName
		r.Candidate = disp.Candidate
		if disp.Outcome == resolve.OutcomeDropped {
			continue
		}
		if err := s.store(ctx, batchID, cat, uploads[i], checks[i], disp, r); err != nil {
			r.Error = err.Error()
			slog.Warn("intake: store failed", "batch", batchID, "file", r.Name, "error", err)
		}
	}
	return results, nil
}

// store writes one upload and commits its journal entry.
func (s *Service) store(ctx context.Context, batchID string, cat journal.Category, up Upload, c FileCheck, disp resolve.Disposition, r *Result) error {
	folder := journal.FolderPath(batchID, cat)
	if disp.Outcome == resolve.OutcomeOverwrite && disp.Replaces != nil {
		if dir := path.Dir(disp.Replaces.RelativePath); dir != "." && dir != "" {
			folder = dir
		}
		if s.trash != nil {
			id, err := s.trash.Keep(ctx, *disp.Replaces)
			if err != nil {
				return fmt.Errorf("keep replaced file: %w", err)
			}
			r.TrashID = id
		}
	}

	p, err := s.root.Backend().WriteFile(ctx, folder, disp.TargetName, up.Data)
	if err != nil {
		return fmt.Errorf("write %q: %w", disp.TargetName, err)
	}
	r.Path = p

	e := journal.Entry{
		BatchID:      journal.BatchID(batchID),
		Category:     cat,
		FileName:     disp.TargetName,
		UploadedAt:   s.now().UTC(),
		RelativePath: p,
		FileSize:     journal.SizePtr(int64(len(up.Data))),
	}
	if c.Fingerprint != nil {
		e.ContentHash = c.Fingerprint.ContentHash
	}
	if err := s.root.Commit(ctx, e); err != nil {
		return fmt.Errorf("journal %q: %w", disp.TargetName, err)
	}
	slog.Info("document stored", "batch", batchID, "category", cat.Label(), "name", disp.TargetName,
		"outcome", disp.Outcome, "size", humanize.Bytes(uint64(len(up.Data))))
	return nil
}

func (s *Service) validate(ctx context.Context, batchID, category string, uploads []Upload) (string, journal.Category, error) {
	batchID = journal.CanonicalBatchID(batchID)
	if batchID == "" {
		return "", 0, ErrEmptyBatchID
	}
	cat, ok := journal.ParseCategory(category)
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if len(uploads) == 0 {
		return "", 0, ErrNoFiles
	}
	if s.batches != nil {
		known, err := s.batches.Known(ctx, batchID)
		if err != nil {
			return "", 0, err
		}
		if !known {
			return "", 0, fmt.Errorf("%w: %q", ErrUnknownBatch, batchID)
		}
	}
	return batchID, cat, nil
}

// analyze fingerprints and classifies uploads concurrently. Results are in
// uploads order.
func (s *Service) analyze(ctx context.Context, batchID string, cat journal.Category, uploads []Upload) []FileCheck {
	existing := s.root.Journal().EntriesFor(batchID, cat)
	cls := classify.New(s.cfg.Thresholds, classify.WithFingerprints(s.existingFingerprints(), s.cfg.Visual))

	checks := make([]FileCheck, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range uploads {
		up := &uploads[i]
		if up.ID == "" {
			up.ID = uuid.NewString()
		}
		g.Go(func() error {
			c := FileCheck{
				FileID:     up.ID,
				Name:       up.Name,
				StoredName: journal.StoredName(batchID, cat, up.Name),
				Size:       humanize.Bytes(uint64(len(up.Data))),
				Candidates: []classify.Candidate{},
			}
			in := classify.Incoming{ID: up.ID, Name: up.Name}
			if up.ReadErr != nil {
				c.Error = up.ReadErr.Error()
			} else {
				fp := s.gen.Generate(gctx, up.Data, up.Name)
				c.Fingerprint = &fp
				in.Fingerprint = &fp
			}
			if found := cls.Classify(gctx, in, existing); found != nil {
				c.Candidates = found
			}
			checks[i] = c
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

// existingFingerprints returns a FingerprintSource that reads journaled
// files from storage, memoized for one analyze call.
func (s *Service) existingFingerprints() classify.FingerprintSource {
	type result struct {
		fp fingerprint.Fingerprint
		ok bool
	}
	var mu sync.Mutex
	memo := make(map[string]*result)
	return func(ctx context.Context, e journal.Entry) (fingerprint.Fingerprint, bool) {
		mu.Lock()
		r, hit := memo[e.RelativePath]
		mu.Unlock()
		if hit {
			return r.fp, r.ok
		}
		r = &result{}
		data, err := s.root.Backend().ReadFile(ctx, e.RelativePath)
		if err != nil {
			slog.Debug("intake: read existing file", "path", e.RelativePath, "error", err)
		} else {
			r.fp, r.ok = s.gen.Generate(ctx, data, e.FileName), true
		}
		mu.Lock()
		memo[e.RelativePath] = r
		mu.Unlock()
		return r.fp, r.ok
	}
}

// decisionByID rewrites per-file decisions keyed by upload name to the
// upload's id. Names are matched case-insensitively.
func decisionByID(d resolve.Decision, checks []FileCheck) resolve.Decision {
	if len(d.PerFile) == 0 {
		return d
	}
	out := resolve.Decision{Bulk: d.Bulk, PerFile: make(map[string]classify.Action, len(d.PerFile))}
	for k, a := range d.PerFile {
		out.PerFile[k] = a
	}
	for _, c := range checks {
		if _, ok := out.PerFile[c.FileID]; ok {
			continue
		}
		for k, a := range d.PerFile {
			if strings.EqualFold(k, c.Name) {
				out.PerFile[c.FileID] = a
				break
			}
		}
	}
	return out
}
