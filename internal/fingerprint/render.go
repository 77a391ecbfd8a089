package fingerprint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JaimeStill/document-context/pkg/config"
	"github.com/JaimeStill/document-context/pkg/document"
	dcimage "github.com/JaimeStill/document-context/pkg/image"
)

// PageRenderer rasterizes the first page of a PDF to an encoded image.
type PageRenderer interface {
	RenderFirstPage(ctx context.Context, pdf []byte) ([]byte, error)
}

// MagickRenderer renders through ImageMagick. It is unavailable on hosts
// without the magick binary; Generate then omits the first-page hash.
type MagickRenderer struct {
	DPI     int
	TempDir string // "" = os.TempDir()
}

// RenderFirstPage writes the PDF to a scratch directory, renders page 1 as
// PNG and removes the scratch directory.
func (r MagickRenderer) RenderFirstPage(ctx context.Context, pdf []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(r.TempDir, "dochub-render-*")
	if err != nil {
		return nil, fmt.Errorf("render: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("render: write source: %w", err)
	}

	doc, err := document.OpenPDF(src)
	if err != nil {
		return nil, fmt.Errorf("render: open pdf: %w", err)
	}
	defer doc.Close()

	dpi := r.DPI
	if dpi <= 0 {
		dpi = 36
	}
	renderer, err := dcimage.NewImageMagickRenderer(config.ImageConfig{
		Format:  "png",
		DPI:     dpi,
		Options: map[string]any{"background": "white"},
	})
	if err != nil {
		return nil, fmt.Errorf("render: create renderer: %w", err)
	}

	page, err := doc.ExtractPage(1)
	if err != nil {
		return nil, fmt.Errorf("render: extract page 1: %w", err)
	}
	data, err := page.ToImage(renderer, nil)
	if err != nil {
		return nil, fmt.Errorf("render: page 1: %w", err)
	}
	return data, nil
}
