// Package resolve turns duplicate candidates and the user's decisions into
// per-file dispositions: drop, overwrite the matched file, or store under a
// versioned name.
package resolve

import (
	"fmt"
	"path"
	"regexp"

	"github.com/eargollo/dochub/internal/classify"
	"github.com/eargollo/dochub/internal/journal"
)

// MaxVersionAttempts bounds the search for a free "_v<N>" name.
const MaxVersionAttempts = 100

var versionSuffix = regexp.MustCompile(`(?i)_v\d+$`)

// Outcome is what happens to one incoming file.
type Outcome string

const (
	OutcomeNew       Outcome = "new"       // not a duplicate; stored under its own name
	OutcomeDropped   Outcome = "dropped"   // skip
	OutcomeOverwrite Outcome = "overwrite" // replace the matched file
	OutcomeVersioned Outcome = "versioned" // stored beside the match with a _v<N> suffix
)

// File is an incoming file as the policy sees it. TargetName is the name it
// would be stored under if it were new.
type File struct {
	ID         string
	TargetName string
}

// Disposition is the resolved fate of one file.
type Disposition struct {
	FileID     string              `json:"fileId"`
	Outcome    Outcome             `json:"outcome"`
	TargetName string              `json:"targetName,omitempty"`
	Replaces   *journal.Entry      `json:"replaces,omitempty"`
	Candidate  *classify.Candidate `json:"candidate,omitempty"`
}

// Decision carries the user's choices. PerFile wins over Bulk; files with
// neither fall back to the top candidate's suggested action.
type Decision struct {
	PerFile map[string]classify.Action `json:"perFile,omitempty"`
	Bulk    classify.Action            `json:"bulk,omitempty"`
}

// ActionFor returns the action chosen for fileID.
func (d Decision) ActionFor(fileID string, suggested classify.Action) classify.Action {
	if a, ok := d.PerFile[fileID]; ok && a.Valid() {
		return a
	}
	if d.Bulk.Valid() {
		return d.Bulk
	}
	if suggested.Valid() {
		return suggested
	}
	return classify.ActionSkip
}

// Lookup is the slice of the journal the policy consults.
type Lookup interface {
	Lookup(batchID string, c journal.Category, fileName string) bool
}

// Policy resolves the files of one batch and category.
type Policy struct {
	lookup   Lookup
	batchID  string
	category journal.Category
	reserved map[string]struct{}
}

// New returns a Policy for one batch/category slot.
func New(lookup Lookup, batchID string, c journal.Category) *Policy {
	return &Policy{lookup: lookup, batchID: batchID, category: c, reserved: make(map[string]struct{})}
}

// Resolve returns one disposition per file, in files order. candidates may
// hold several entries per file; the first one for a file (the highest
// confidence, as Classify orders them) decides.
func (p *Policy) Resolve(files []File, candidates []classify.Candidate, d Decision) []Disposition {
	top := make(map[string]classify.Candidate, len(candidates))
	for _, c := range candidates {
		if _, seen := top[c.FileID]; !seen {
			top[c.FileID] = c
		}
	}

	out := make([]Disposition, 0, len(files))
	for _, f := range files {
		c, dup := top[f.ID]
		if !dup {
			out = append(out, p.fresh(f))
			continue
		}
		cand := c
		disp := Disposition{FileID: f.ID, Candidate: &cand}
		switch d.ActionFor(f.ID, c.SuggestedAction) {
		case classify.ActionReplace:
			matched := c.Matched
			disp.Outcome = OutcomeOverwrite
			disp.TargetName = matched.FileName
			disp.Replaces = &matched
			p.reserved[matched.FileName] = struct{}{}
		case classify.ActionVersion:
			disp.Outcome = OutcomeVersioned
			disp.TargetName = p.nextVersion(f.TargetName)
		default:
			disp.Outcome = OutcomeDropped
		}
		out = append(out, disp)
	}
	return out
}

// fresh places a non-duplicate. A name already taken in the journal or by an
// earlier file of this call is versioned instead of overwritten.
func (p *Policy) fresh(f File) Disposition {
	name := f.TargetName
	if p.taken(name) {
		return Disposition{FileID: f.ID, Outcome: OutcomeVersioned, TargetName: p.nextVersion(name)}
	}
	p.reserved[name] = struct{}{}
	return Disposition{FileID: f.ID, Outcome: OutcomeNew, TargetName: name}
}

func (p *Policy) taken(name string) bool {
	if _, ok := p.reserved[name]; ok {
		return true
	}
	return p.lookup != nil && p.lookup.Lookup(p.batchID, p.category, name)
}

func (p *Policy) nextVersion(name string) string {
	v := NextVersionName(name, p.taken)
	p.reserved[v] = struct{}{}
	return v
}

// NextVersionName appends "_v<N>" before the extension of name, with N
// starting at 2 and skipping every value for which exists reports true. Any
// version suffix already on name is replaced. After MaxVersionAttempts the
// last attempted name is returned.
func NextVersionName(name string, exists func(string) bool) string {
	ext := path.Ext(name)
	stem := versionSuffix.ReplaceAllString(name[:len(name)-len(ext)], "")

	var last string
	for n := 2; n < 2+MaxVersionAttempts; n++ {
		last = fmt.Sprintf("%s_v%d%s", stem, n, ext)
		if !exists(last) {
			return last
		}
	}
	return last
}
