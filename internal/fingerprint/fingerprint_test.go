package fingerprint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"github.com/eargollo/dochub/internal/media"
)

// halves returns a w×h image whose left half is black and right half white.
func halves(w, h int, invert bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dark := x < w/2
			if invert {
				dark = !dark
			}
			if !dark {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// buildPDF returns a minimal US Letter PDF with the given number of blank
// pages. When withFont is set every page carries a font resource.
func buildPDF(pages int, withFont bool) []byte {
	var objs []string
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+4)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	res := "<< >>"
	if withFont {
		res = "<< /Font << /F1 3 0 R >> >>"
	}
	for range pages {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources "+res+" >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

type fakeRenderer struct {
	page  []byte
	err   error
	calls int
}

func (f *fakeRenderer) RenderFirstPage(ctx context.Context, pdf []byte) ([]byte, error) {
	f.calls++
	return f.page, f.err
}

func TestHashBytes(t *testing.T) {
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashBytes([]byte("abc")); got != want {
		t.Errorf("HashBytes(abc) = %s", got)
	}
	got, err := HashReader(bytes.NewReader([]byte("abc")))
	if err != nil || got != want {
		t.Errorf("HashReader(abc) = %s, %v", got, err)
	}
}

func TestAverageHashIsScaleInvariant(t *testing.T) {
	small := AverageHash(halves(16, 16, false))
	large := AverageHash(halves(400, 300, false))
	if sim := Similarity(small, large); sim != 100 {
		t.Errorf("similarity across scales = %.1f, want 100", sim)
	}
	inverted := AverageHash(halves(16, 16, true))
	if sim := Similarity(small, inverted); sim != 0 {
		t.Errorf("similarity to inverse = %.1f, want 0", sim)
	}
	// The bright right half sets the low nibble of every row.
	if small != Hash(0x0f0f0f0f0f0f0f0f) {
		t.Errorf("hash = %s", small)
	}
}

func TestHashTextRoundTrip(t *testing.T) {
	h := Hash(0x8000000000000001)
	b, _ := h.MarshalText()
	if len(b) != HashBits {
		t.Fatalf("text length = %d", len(b))
	}
	var back Hash
	if err := back.UnmarshalText(b); err != nil || back != h {
		t.Errorf("round trip = %v, %v", back, err)
	}
	if err := back.UnmarshalText([]byte("101")); err == nil {
		t.Error("short hash accepted")
	}
}

func TestGenerateImage(t *testing.T) {
	g := New(Options{}, nil)
	data := encodePNG(t, halves(32, 32, false))
	fp := g.Generate(context.Background(), data, "scan.png")

	if fp.FileType != media.FileTypeImage {
		t.Errorf("FileType = %s", fp.FileType)
	}
	if fp.SizeBytes != int64(len(data)) || fp.ContentHash != HashBytes(data) {
		t.Errorf("size/hash not set: %+v", fp)
	}
	if fp.ImageHash == nil || *fp.ImageHash != AverageHash(halves(32, 32, false)) {
		t.Errorf("ImageHash = %v", fp.ImageHash)
	}
	if fp.PageCount != 0 || fp.FirstPageHash != nil {
		t.Errorf("PDF fields set on an image: %+v", fp)
	}
}

func TestGenerateNeverFailsOnGarbage(t *testing.T) {
	r := &fakeRenderer{err: errors.New("no magick")}
	g := New(Options{RenderFirstPage: true}, r)
	inputs := map[string][]byte{
		"broken.pdf": []byte("%PDF-1.4\n garbage \x00\x01\x02"),
		"empty.pdf":  nil,
		"fake.png":   []byte("\x89PNG\r\n\x1a\n truncated"),
		"notes.docx": []byte("PK\x03\x04"),
	}
	for name, data := range inputs {
		fp := g.Generate(context.Background(), data, name)
		if fp.ContentHash != HashBytes(data) {
			t.Errorf("%s: content hash missing", name)
		}
		if fp.StructureDigest != "" || fp.ImageHash != nil || fp.FirstPageHash != nil {
			t.Errorf("%s: unexpected derived fields %+v", name, fp)
		}
	}
}

func TestGenerateRendersFirstPage(t *testing.T) {
	page := encodePNG(t, halves(64, 64, true))
	r := &fakeRenderer{page: page}
	pdf := []byte("%PDF-1.4\nunparseable body")

	fp := New(Options{RenderFirstPage: true}, r).Generate(context.Background(), pdf, "a.pdf")
	if r.calls != 1 {
		t.Fatalf("renderer called %d times, want 1", r.calls)
	}
	if fp.FirstPageHash == nil || *fp.FirstPageHash != AverageHash(halves(64, 64, true)) {
		t.Errorf("FirstPageHash = %v", fp.FirstPageHash)
	}

	r.calls = 0
	fp = New(Options{RenderFirstPage: false}, r).Generate(context.Background(), pdf, "a.pdf")
	if r.calls != 0 || fp.FirstPageHash != nil {
		t.Errorf("rendering disabled but renderer called %d times", r.calls)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	g := New(Options{}, nil)
	data := encodePNG(t, halves(20, 10, false))
	a := g.Generate(context.Background(), data, "x.png")
	b := g.Generate(context.Background(), data, "x.png")
	if a.ContentHash != b.ContentHash || *a.ImageHash != *b.ImageHash {
		t.Error("two runs over the same bytes differ")
	}
}

func TestGeneratePDFStructure(t *testing.T) {
	g := New(Options{}, nil)
	ctx := context.Background()

	seven := g.Generate(ctx, buildPDF(7, true), "seven.pdf")
	if seven.FileType != media.FileTypePDF {
		t.Fatalf("FileType = %s", seven.FileType)
	}
	if seven.PageCount != 7 {
		t.Errorf("PageCount = %d, want 7", seven.PageCount)
	}
	if seven.StructureDigest == "" {
		t.Fatal("StructureDigest empty")
	}

	// Only the leading DefaultMaxPDFPages pages feed the digest.
	nine := g.Generate(ctx, buildPDF(9, true), "nine.pdf")
	if nine.PageCount != 9 {
		t.Errorf("PageCount = %d, want 9", nine.PageCount)
	}
	if nine.StructureDigest != seven.StructureDigest {
		t.Errorf("digests differ beyond page %d: %s vs %s", DefaultMaxPDFPages, seven.StructureDigest, nine.StructureDigest)
	}

	wide := New(Options{MaxPDFPages: 9}, nil)
	if wide.Generate(ctx, buildPDF(7, true), "a.pdf").StructureDigest == wide.Generate(ctx, buildPDF(9, true), "b.pdf").StructureDigest {
		t.Error("digest ignores pages within MaxPDFPages")
	}

	scanned := g.Generate(ctx, buildPDF(7, false), "scan.pdf")
	if scanned.PageCount != 7 {
		t.Errorf("PageCount = %d, want 7", scanned.PageCount)
	}
	if scanned.StructureDigest == "" || scanned.StructureDigest == seven.StructureDigest {
		t.Errorf("text presence not reflected in digest: %q", scanned.StructureDigest)
	}
}

func TestMagickRendererFirstPage(t *testing.T) {
	if _, err := exec.LookPath("magick"); err != nil {
		t.Skip("ImageMagick not installed")
	}
	data, err := MagickRenderer{TempDir: t.TempDir()}.RenderFirstPage(context.Background(), buildPDF(3, false))
	if err != nil {
		t.Fatalf("RenderFirstPage: %v", err)
	}
	if _, err := media.Decode(data); err != nil {
		t.Errorf("rendered page does not decode: %v", err)
	}
}
