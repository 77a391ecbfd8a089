package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	pngData := pngBytes(t, image.NewGray(image.Rect(0, 0, 2, 2)))
	tests := []struct {
		name string
		data []byte
		want FileType
	}{
		{"scan.bin", []byte("%PDF-1.7\n..."), FileTypePDF},
		{"invoice.pdf", []byte("not really a pdf"), FileTypePDF},
		{"photo.dat", pngData, FileTypeImage},
		{"photo.heic", nil, FileTypeImage},
		{"notes.txt", []byte("hello"), FileTypeOther},
		{"noext", nil, FileTypeOther},
	}
	for _, tt := range tests {
		if got := Detect(tt.name, tt.data); got != tt.want {
			t.Errorf("Detect(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(0, 0, color.Gray{Y: 200})
	got, err := Decode(pngBytes(t, img))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b := got.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Errorf("bounds = %v, want 3x2", b)
	}

	if _, err := Decode([]byte("plain text")); !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("Decode(text) err = %v, want ErrUnsupportedImage", err)
	}
}

func TestOrientationWithoutExif(t *testing.T) {
	if got := Orientation(pngBytes(t, image.NewGray(image.Rect(0, 0, 1, 1)))); got != 1 {
		t.Errorf("Orientation = %d, want 1", got)
	}
}

func TestOrientSwapsAxesForRotations(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for o := 1; o <= 8; o++ {
		b := Orient(img, o).Bounds()
		wantW, wantH := 4, 2
		if o >= 5 {
			wantW, wantH = 2, 4
		}
		if b.Dx() != wantW || b.Dy() != wantH {
			t.Errorf("Orient(%d) = %dx%d, want %dx%d", o, b.Dx(), b.Dy(), wantW, wantH)
		}
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("a.PDF"); got != "application/pdf" {
		t.Errorf("ContentType(a.PDF) = %q", got)
	}
	if got := ContentType("a.unknownext"); got != "application/octet-stream" {
		t.Errorf("ContentType(unknown) = %q", got)
	}
}
