// Package fingerprint derives comparable content identities for documents:
// a SHA-256 of the raw bytes for every file, plus a page-structure digest and
// a first-page average hash for PDFs, and an average hash for raster images.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/eargollo/dochub/internal/media"
)

// DefaultMaxPDFPages bounds how many pages feed the structure digest.
const DefaultMaxPDFPages = 5

// Fingerprint summarizes one file. FileType and SizeBytes are always set;
// every other field is best-effort and left empty when it cannot be derived.
type Fingerprint struct {
	FileType    media.FileType `json:"fileType"`
	SizeBytes   int64          `json:"sizeBytes"`
	ContentHash string         `json:"contentHash,omitempty"`

	// PDF only.
	PageCount       int    `json:"pageCount,omitempty"`
	StructureDigest string `json:"structureDigest,omitempty"`
	FirstPageHash   *Hash  `json:"firstPageHash,omitempty"`

	// Raster images only.
	ImageHash *Hash `json:"imageHash,omitempty"`
}

// Options tunes a Generator.
type Options struct {
	MaxPDFPages     int
	RenderFirstPage bool
}

// Generator computes fingerprints. It holds no per-file state and is safe
// for concurrent use.
type Generator struct {
	opts     Options
	renderer PageRenderer
}

// New returns a Generator. renderer may be nil, which disables first-page
// hashing regardless of opts.RenderFirstPage.
func New(opts Options, renderer PageRenderer) *Generator {
	if opts.MaxPDFPages <= 0 {
		opts.MaxPDFPages = DefaultMaxPDFPages
	}
	return &Generator{opts: opts, renderer: renderer}
}

// Generate fingerprints data. It never fails: parse and decode errors are
// logged at debug level and the corresponding fields are omitted.
func (g *Generator) Generate(ctx context.Context, data []byte, name string) (fp Fingerprint) {
	base := Fingerprint{
		FileType:    media.Detect(name, data),
		SizeBytes:   int64(len(data)),
		ContentHash: HashBytes(data),
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("fingerprint: decoder panic", "file", name, "panic", r)
			fp = base
		}
	}()
	fp = base

	switch fp.FileType {
	case media.FileTypePDF:
		g.fillPDF(ctx, &fp, data, name)
	case media.FileTypeImage:
		img, err := media.Decode(data)
		if err != nil {
			slog.Debug("fingerprint: image decode", "file", name, "error", err)
			break
		}
		h := AverageHash(img)
		fp.ImageHash = &h
	}
	return fp
}

func (g *Generator) fillPDF(ctx context.Context, fp *Fingerprint, data []byte, name string) {
	s, err := analyzePDF(data, g.opts.MaxPDFPages)
	if err != nil {
		slog.Debug("fingerprint: pdf structure", "file", name, "error", err)
	} else {
		fp.PageCount = s.pageCount
		fp.StructureDigest = s.digest
	}

	if !g.opts.RenderFirstPage || g.renderer == nil {
		return
	}
	png, err := g.renderer.RenderFirstPage(ctx, data)
	if err != nil {
		slog.Debug("fingerprint: render first page", "file", name, "error", err)
		return
	}
	img, err := media.Decode(png)
	if err != nil {
		slog.Debug("fingerprint: decode rendered page", "file", name, "error", err)
		return
	}
	h := AverageHash(img)
	fp.FirstPageHash = &h
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader returns the hex SHA-256 of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
