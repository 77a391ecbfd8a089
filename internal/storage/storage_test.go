package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	p, err := l.WriteFile(ctx, "6024/Purchase Order", "a.pdf", []byte("one"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if p != "6024/Purchase Order/a.pdf" {
		t.Errorf("path = %q", p)
	}
	if _, err := l.WriteFile(ctx, "6024/Purchase Order", "a.pdf", []byte("two!")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := l.ReadFile(ctx, p)
	if err != nil || string(got) != "two!" {
		t.Fatalf("ReadFile = %q, %v; want two!", got, err)
	}

	files, err := l.ListFiles(ctx, "6024/Purchase Order")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != "a.pdf" || files[0].Size != 4 {
		t.Errorf("ListFiles = %+v, want one 4-byte a.pdf", files)
	}

	dirs, err := l.ListSubdirectories(ctx, "")
	if err != nil || len(dirs) != 1 || dirs[0] != "6024" {
		t.Errorf("ListSubdirectories = %v, %v", dirs, err)
	}

	if err := l.Delete(ctx, p); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := l.ReadFile(ctx, p); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile after delete err = %v, want ErrNotFound", err)
	}
	if err := l.Delete(ctx, p); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestLocalListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, _ := NewLocal(dir)
	if err := os.WriteFile(filepath.Join(dir, ".a.pdf"+tempMarker+"123"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	files, err := l.ListFiles(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != "b.pdf" {
		t.Errorf("ListFiles = %+v, want only b.pdf", files)
	}
}

func TestLocalRejectsEscapes(t *testing.T) {
	ctx := context.Background()
	l, _ := NewLocal(t.TempDir())
	if _, err := l.ReadFile(ctx, "../etc/passwd"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("ReadFile(..) err = %v, want ErrInvalidPath", err)
	}
	if _, err := l.WriteFile(ctx, "x", "a/b.pdf", nil); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("WriteFile(a/b) err = %v, want ErrInvalidPath", err)
	}
	if _, err := l.WriteFile(ctx, "x", "", nil); !errors.Is(err, ErrEmptyName) {
		t.Errorf("WriteFile('') err = %v, want ErrEmptyName", err)
	}
	if _, err := l.ListFiles(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListFiles(missing) err = %v, want ErrNotFound", err)
	}
}

func TestNewLocalMissingRoot(t *testing.T) {
	_, err := NewLocal(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrRootNotFound) {
		t.Errorf("err = %v, want ErrRootNotFound", err)
	}
	if _, err := New(context.Background(), Config{Backend: "ftp"}); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestObjectPrefixes(t *testing.T) {
	tests := []struct {
		prefix, folder, want string
	}{
		{"", "", ""},
		{"docs", "", "docs/"},
		{"", "6024", "6024/"},
		{"docs/", "6024/Sales Order", "docs/6024/Sales Order/"},
	}
	for _, tt := range tests {
		if got := listPrefix(tt.prefix, tt.folder); got != tt.want {
			t.Errorf("listPrefix(%q, %q) = %q, want %q", tt.prefix, tt.folder, got, tt.want)
		}
	}
	if got := objectKey("docs", ".dochub-journal.json"); got != "docs/.dochub-journal.json" {
		t.Errorf("objectKey = %q", got)
	}
	if got := childName("docs/6024/", "docs/6024/Sales Order/"); got != "Sales Order" {
		t.Errorf("childName = %q", got)
	}
}
