// Package classify decides whether an incoming document duplicates one that
// is already journaled, combining content hashes, file names, sizes and
// visual fingerprints into a confidence score and a reason.
package classify

import (
	"context"
	"math"
	"sort"

	"github.com/eargollo/dochub/internal/fingerprint"
	"github.com/eargollo/dochub/internal/journal"
	"github.com/eargollo/dochub/internal/media"
)

// Reason names the rule that produced a candidate.
type Reason string

const (
	ReasonHashExact Reason = "hash-exact"
	ReasonNameSize  Reason = "name+size"
	ReasonNameOnly  Reason = "name-only"
	ReasonVisual    Reason = "visual-structure"
)

// Action is what to do with an incoming file that duplicates an entry.
type Action string

const (
	ActionSkip    Action = "skip"
	ActionReplace Action = "replace"
	ActionVersion Action = "version"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionSkip, ActionReplace, ActionVersion:
		return true
	}
	return false
}

// Thresholds are the policy constants of the rules. They are not derived
// from data; override them through configuration.
type Thresholds struct {
	HashExactConfidence int     `yaml:"hash_exact"           json:"hash_exact"`
	NameSizeConfidence  int     `yaml:"name_size"            json:"name_size"`
	MinSizeSimilarity   float64 `yaml:"size_similarity"      json:"size_similarity"`
	MinNameRatio        float64 `yaml:"name_ratio"           json:"name_ratio"`
	MinNameOnly         float64 `yaml:"name_only_similarity" json:"name_only_similarity"`
	NameOnlyConfidence  int     `yaml:"name_only"            json:"name_only"`
	MinVisual           float64 `yaml:"visual"               json:"visual"`
}

// DefaultThresholds returns the stock policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HashExactConfidence: 100,
		NameSizeConfidence:  95,
		MinSizeSimilarity:   95,
		MinNameRatio:        80,
		MinNameOnly:         95,
		NameOnlyConfidence:  85,
		MinVisual:           75,
	}
}

// Incoming is a file offered for upload. Fingerprint is nil when the file
// could not be read; such a file is never reported as a duplicate.
type Incoming struct {
	ID          string
	Name        string
	Fingerprint *fingerprint.Fingerprint
}

// Candidate is one existing entry an incoming file may duplicate.
type Candidate struct {
	FileID          string        `json:"fileId"`
	FileName        string        `json:"fileName"`
	Matched         journal.Entry `json:"matchedEntry"`
	Confidence      int           `json:"confidence"`
	Reason          Reason        `json:"reasonCode"`
	SuggestedAction Action        `json:"suggestedAction"`
}

// FingerprintSource returns the fingerprint of a journaled file, recomputed
// from storage. ok is false when the file cannot be read.
type FingerprintSource func(ctx context.Context, e journal.Entry) (fp fingerprint.Fingerprint, ok bool)

// Classifier applies the rules. It holds no mutable state.
type Classifier struct {
	th     Thresholds
	source FingerprintSource
	visual bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFingerprints lets the classifier fetch fingerprints of existing files:
// to fill in content hashes missing from legacy entries and, when visual is
// true, to compare visual structure.
func WithFingerprints(src FingerprintSource, visual bool) Option {
	return func(c *Classifier) {
		c.source = src
		c.visual = visual
	}
}

// New returns a Classifier.
func New(th Thresholds, opts ...Option) *Classifier {
	c := &Classifier{th: th}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify compares in against existing and returns the candidates ordered by
// descending confidence; candidates with equal confidence keep the order of
// existing. For each existing entry the first satisfied rule wins.
func (c *Classifier) Classify(ctx context.Context, in Incoming, existing []journal.Entry) []Candidate {
	if in.Fingerprint == nil || in.Fingerprint.ContentHash == "" {
		return nil
	}

	var out []Candidate
	for _, e := range existing {
		if ctx.Err() != nil {
			break
		}
		conf, reason := c.match(ctx, in, e)
		if conf <= 0 {
			continue
		}
		out = append(out, Candidate{
			FileID:          in.ID,
			FileName:        in.Name,
			Matched:         e,
			Confidence:      conf,
			Reason:          reason,
			SuggestedAction: ActionSkip,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func (c *Classifier) match(ctx context.Context, in Incoming, e journal.Entry) (int, Reason) {
	fp := in.Fingerprint

	var (
		existingFP *fingerprint.Fingerprint
		fetched    bool
	)
	fetch := func() *fingerprint.Fingerprint {
		if !fetched && c.source != nil {
			fetched = true
			if got, ok := c.source(ctx, e); ok {
				existingFP = &got
			}
		}
		return existingFP
	}

	entryHash := e.ContentHash
	if entryHash == "" {
		if got := fetch(); got != nil {
			entryHash = got.ContentHash
		}
	}
	// Absent hashes never match: absence is not equality.
	if entryHash != "" && entryHash == fp.ContentHash {
		return c.th.HashExactConfidence, ReasonHashExact
	}

	name := NameSimilarity(in.Name, e.FileName)
	if name >= c.th.MinNameRatio {
		if size, ok := e.Size(); ok && SizeSimilarity(fp.SizeBytes, size) >= c.th.MinSizeSimilarity {
			return c.th.NameSizeConfidence, ReasonNameSize
		}
	}
	if name >= c.th.MinNameOnly {
		return c.th.NameOnlyConfidence, ReasonNameOnly
	}

	if !c.visual {
		return 0, ""
	}
	if fp.FileType != media.FileTypePDF && fp.FileType != media.FileTypeImage {
		return 0, ""
	}
	other := fetch()
	if other == nil {
		return 0, ""
	}
	if score, ok := VisualSimilarity(*fp, *other); ok && score >= c.th.MinVisual {
		// A visual match is never as certain as identical bytes.
		return min(int(math.Round(score)), c.th.HashExactConfidence-1), ReasonVisual
	}
	return 0, ""
}

// VisualSimilarity compares two fingerprints of the same file type, 0..100.
// Images compare their average hashes. PDFs average page-count closeness,
// structure-digest equality and first-page hash similarity over whichever
// are present on both sides. ok is false when no signal is comparable.
func VisualSimilarity(a, b fingerprint.Fingerprint) (float64, bool) {
	if a.FileType != b.FileType {
		return 0, false
	}
	switch a.FileType {
	case media.FileTypeImage:
		if a.ImageHash == nil || b.ImageHash == nil {
			return 0, false
		}
		return fingerprint.Similarity(*a.ImageHash, *b.ImageHash), true

	case media.FileTypePDF:
		var sum float64
		n := 0
		if a.FirstPageHash != nil && b.FirstPageHash != nil {
			sum += fingerprint.Similarity(*a.FirstPageHash, *b.FirstPageHash)
			n++
		}
		if a.PageCount > 0 && b.PageCount > 0 {
			sum += pageCountCloseness(a.PageCount, b.PageCount)
			n++
		}
		if a.StructureDigest != "" && b.StructureDigest != "" {
			if a.StructureDigest == b.StructureDigest {
				sum += 100
			}
			n++
		}
		if n == 0 {
			return 0, false
		}
		return sum / float64(n), true
	}
	return 0, false
}

func pageCountCloseness(a, b int) float64 {
	hi, lo := max(a, b), min(a, b)
	return 100 * float64(lo) / float64(hi)
}
