package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var disableConfigDir sync.Once

// pdfStructure is what pdfcpu can tell us about a document without
// rendering it.
type pdfStructure struct {
	pageCount int
	digest    string
}

// analyzePDF reads the page tree and digests the geometry and text presence
// of at most maxPages leading pages. pdfcpu may panic on hostile input; a
// panic is returned as an error.
func analyzePDF(data []byte, maxPages int) (s pdfStructure, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()

	// pdfcpu otherwise creates a config directory under the user's home.
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadAndValidate(bytes.NewReader(data), conf)
	if err != nil {
		return s, fmt.Errorf("read pdf: %w", err)
	}
	s.pageCount = ctx.PageCount

	dims, err := ctx.PageDims()
	if err != nil {
		return s, fmt.Errorf("page dims: %w", err)
	}

	n := min(s.pageCount, maxPages)
	h := sha256.New()
	for i := 1; i <= n; i++ {
		var w, ht float64
		if i <= len(dims) {
			w, ht = dims[i-1].Width, dims[i-1].Height
		}
		// Whole points: rounding absorbs float noise between producers.
		fmt.Fprintf(h, "%d:%.0fx%.0f:%t;", i, math.Round(w), math.Round(ht), pageHasText(ctx, i))
	}
	s.digest = hex.EncodeToString(h.Sum(nil))
	return s, nil
}

// pageHasText reports whether the page (or the resources it inherits)
// references any font, which is how text-bearing pages differ from scans.
func pageHasText(ctx *model.Context, pageNr int) bool {
	d, _, inherited, err := ctx.PageDict(pageNr, false)
	if err != nil || d == nil {
		return false
	}
	if obj, ok := d.Find("Resources"); ok {
		if res, err := ctx.DereferenceDict(obj); err == nil && hasFonts(ctx, res) {
			return true
		}
	}
	if inherited != nil && hasFonts(ctx, inherited.Resources) {
		return true
	}
	return false
}

func hasFonts(ctx *model.Context, res types.Dict) bool {
	if res == nil {
		return false
	}
	obj, ok := res.Find("Font")
	if !ok {
		return false
	}
	fonts, err := ctx.DereferenceDict(obj)
	return err == nil && len(fonts) > 0
}
