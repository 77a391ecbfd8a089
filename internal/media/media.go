// Package media classifies incoming documents and decodes raster images for
// fingerprinting.
package media

import (
	"bytes"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/image/webp"
)

// FileType classifies a file for fingerprinting.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeImage FileType = "image"
	FileTypeOther FileType = "other"
)

// ErrUnsupportedImage is returned by Decode for image formats without a
// pure-Go decoder (heic, avif, tiff, ...).
var ErrUnsupportedImage = errors.New("unsupported image format")

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true, ".tif": true,
	".heic": true, ".heif": true, ".avif": true,
}

var pdfMagic = []byte("%PDF-")

// Detect returns the FileType for a file. The content is sniffed first; the
// extension of name is only consulted when the bytes are inconclusive.
func Detect(name string, data []byte) FileType {
	if bytes.HasPrefix(data, pdfMagic) {
		return FileTypePDF
	}
	if len(data) > 0 {
		ct := http.DetectContentType(data)
		if strings.HasPrefix(ct, "image/") {
			return FileTypeImage
		}
		if ct == "application/pdf" {
			return FileTypePDF
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".pdf":
		return FileTypePDF
	case imageExts[ext]:
		return FileTypeImage
	default:
		return FileTypeOther
	}
}

// ContentType returns the MIME content type for the file based on its extension.
// Returns "application/octet-stream" for unknown types.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// Decode decodes a raster image and applies its EXIF orientation so that a
// rotated photo and its upright copy decode to the same pixels.
// Only formats with pure-Go decoders are supported.
func Decode(data []byte) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	switch http.DetectContentType(data) {
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	case "image/png":
		img, err = png.Decode(bytes.NewReader(data))
	case "image/gif":
		img, err = gif.Decode(bytes.NewReader(data))
	case "image/webp":
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		return nil, ErrUnsupportedImage
	}
	if err != nil {
		return nil, err
	}
	return Orient(img, Orientation(data)), nil
}
