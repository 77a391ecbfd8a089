package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eargollo/dochub/internal/storage"
)

func mustBackend(t *testing.T) (storage.Backend, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := storage.NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return b, dir
}

func entry(batch string, c Category, name string) Entry {
	return Entry{
		BatchID:      BatchID(batch),
		Category:     c,
		FileName:     name,
		UploadedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		RelativePath: FolderPath(batch, c) + "/" + name,
		FileSize:     SizePtr(42),
	}
}

func TestCommitCanonicalizesBatchID(t *testing.T) {
	j := New()
	if err := j.Commit(entry("6024.0", PurchaseOrder, "a.pdf")); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !j.Lookup("6024", PurchaseOrder, "a.pdf") {
		t.Error("Lookup(6024) = false, want true")
	}
	if !j.Lookup(" 6024 ", PurchaseOrder, "a.pdf") {
		t.Error("Lookup(' 6024 ') = false, want true")
	}
	if j.Lookup("6024", SalesOrder, "a.pdf") {
		t.Error("Lookup with another category should miss")
	}
}

func TestCommitReplaceKeepsPosition(t *testing.T) {
	j := New()
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		if err := j.Commit(entry("1", SalesOrder, name)); err != nil {
			t.Fatal(err)
		}
	}
	updated := entry("1", SalesOrder, "a.pdf")
	updated.ContentHash = "abc"
	if err := j.Commit(updated); err != nil {
		t.Fatal(err)
	}

	got := j.Entries()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].FileName != "a.pdf" || got[0].ContentHash != "abc" {
		t.Errorf("first entry = %+v, want updated a.pdf", got[0])
	}
	if got[2].FileName != "c.pdf" {
		t.Errorf("last entry = %s, want c.pdf", got[2].FileName)
	}
}

func TestCommitRejectsInvalidEntries(t *testing.T) {
	j := New()
	cases := map[string]Entry{
		"empty batch":    entry("  ", PurchaseOrder, "a.pdf"),
		"bad category":   entry("1", Category(99), "a.pdf"),
		"empty filename": entry("1", PurchaseOrder, ""),
	}
	for name, e := range cases {
		if err := j.Commit(e); err == nil {
			t.Errorf("%s: Commit succeeded, want error", name)
		}
	}
	if j.Len() != 0 {
		t.Errorf("Len = %d, want 0", j.Len())
	}
}

func TestEntriesForAndCounts(t *testing.T) {
	j := New()
	_ = j.Commit(entry("7", PurchaseOrder, "p1.pdf"))
	_ = j.Commit(entry("7", PurchaseOrder, "p2.pdf"))
	_ = j.Commit(entry("7", SupplierInvoice, "i.pdf"))
	_ = j.Commit(entry("10", PurchaseOrder, "x.pdf"))

	if n := j.CountForBatchAndCategory("7", PurchaseOrder); n != 2 {
		t.Errorf("count(7, PO) = %d, want 2", n)
	}
	if n := len(j.EntriesForBatch("7")); n != 3 {
		t.Errorf("EntriesForBatch(7) = %d, want 3", n)
	}
	ids := j.BatchIDs()
	if len(ids) != 2 || ids[0] != "10" || ids[1] != "7" {
		t.Errorf("BatchIDs = %v, want [10 7]", ids)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, _ := mustBackend(t)

	j := New()
	e := entry("6024", CustomerInvoice, "6024 - Customer Invoice - inv.pdf")
	e.ContentHash = "deadbeef"
	_ = j.Commit(e)
	noSize := entry("6024", SalesOrder, "so.pdf")
	noSize.FileSize = nil
	_ = j.Commit(noSize)
	if err := j.Save(ctx, b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New()
	if err := loaded.Load(ctx, b); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := loaded.Entries()
	if len(got) != 2 {
		t.Fatalf("loaded %d entries, want 2", len(got))
	}
	if got[0].ContentHash != "deadbeef" || !got[0].UploadedAt.Equal(e.UploadedAt) {
		t.Errorf("first entry = %+v", got[0])
	}
	if size, ok := got[0].Size(); !ok || size != 42 {
		t.Errorf("Size() = %d, %v; want 42, true", size, ok)
	}
	if _, ok := got[1].Size(); ok {
		t.Error("entry saved without size should load without size")
	}
}

func TestLoadAcceptsNumericBatchIDs(t *testing.T) {
	ctx := context.Background()
	b, dir := mustBackend(t)
	doc := `[{"batchId": 6024, "category": "Purchase Order", "fileName": "a.pdf",
		"uploadedAt": "2024-01-02T03:04:05Z", "path": "6024/Purchase Order/a.pdf"},
		{"batchId": "6025.0", "category": "supplier_invoice", "fileName": "b.pdf",
		"uploadedAt": "2024-01-02T03:04:05Z", "path": "6025/Supplier Invoice/b.pdf"}]`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	j := New()
	if err := j.Load(ctx, b); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !j.Lookup("6024", PurchaseOrder, "a.pdf") {
		t.Error("numeric batch id not found as string key")
	}
	if !j.Lookup("6025", SupplierInvoice, "b.pdf") {
		t.Error("float-formatted batch id not canonicalized")
	}
}

func TestLoadMissingOrMalformedIsEmpty(t *testing.T) {
	ctx := context.Background()
	b, dir := mustBackend(t)

	j := New()
	_ = j.Commit(entry("1", SalesOrder, "stale.pdf"))
	if err := j.Load(ctx, b); err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if j.Len() != 0 {
		t.Errorf("Len after loading missing journal = %d, want 0", j.Len())
	}

	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := j.Load(ctx, b); err != nil {
		t.Fatalf("Load malformed: %v", err)
	}
	if j.Len() != 0 {
		t.Errorf("Len after loading malformed journal = %d, want 0", j.Len())
	}
}

func TestRootCommitPersists(t *testing.T) {
	ctx := context.Background()
	b, _ := mustBackend(t)

	r, err := OpenRoot(ctx, b)
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	if err := r.Commit(ctx, entry("9", PurchaseOrder, "a.pdf"), entry("9", PurchaseOrder, "b.pdf")); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	again, err := OpenRoot(ctx, b)
	if err != nil {
		t.Fatalf("OpenRoot again: %v", err)
	}
	if again.Journal().Len() != 2 {
		t.Errorf("reopened journal has %d entries, want 2", again.Journal().Len())
	}
}

type readOnlyBackend struct{ storage.Backend }

func (readOnlyBackend) WriteFile(ctx context.Context, folder, name string, data []byte) (string, error) {
	return "", errors.New("read-only file system")
}

func TestRootCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	b, _ := mustBackend(t)
	r, err := OpenRoot(ctx, b)
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	if err := r.Commit(ctx, entry("9", PurchaseOrder, "a.pdf")); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	invalid := entry("9", PurchaseOrder, "")
	if err := r.Commit(ctx, entry("9", PurchaseOrder, "b.pdf"), invalid); err == nil {
		t.Fatal("Commit with an invalid entry succeeded")
	}
	if r.Journal().Len() != 1 || r.Journal().Lookup("9", PurchaseOrder, "b.pdf") {
		t.Errorf("partial commit left in memory: %+v", r.Journal().Entries())
	}

	ro := &Root{backend: readOnlyBackend{b}, journal: r.Journal()}
	changed := entry("9", PurchaseOrder, "a.pdf")
	changed.FileSize = SizePtr(7)
	if err := ro.Commit(ctx, entry("9", SalesOrder, "c.pdf"), changed); err == nil {
		t.Fatal("Commit succeeded although the save failed")
	}
	if r.Journal().Len() != 1 || r.Journal().Lookup("9", SalesOrder, "c.pdf") {
		t.Errorf("unsaved entries left in memory: %+v", r.Journal().Entries())
	}
	if got, _ := r.Journal().Get(Key{BatchID: "9", Category: PurchaseOrder, FileName: "a.pdf"}); *got.FileSize != 42 {
		t.Errorf("replaced entry not rolled back: size %d", *got.FileSize)
	}
}

func TestBackupsPruneOldest(t *testing.T) {
	ctx := context.Background()
	b, _ := mustBackend(t)
	entries := []Entry{entry("1", PurchaseOrder, "a.pdf")}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var names []string
	for i := 0; i < 3; i++ {
		name, err := WriteBackup(ctx, b, entries, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("WriteBackup: %v", err)
		}
		names = append(names, name)
	}

	listed, err := ListBackups(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 3 || listed[0] != names[0] {
		t.Fatalf("ListBackups = %v, want oldest first %v", listed, names)
	}

	removed, err := PruneBackups(ctx, b, 1)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	got, err := LoadBackup(ctx, b, names[2])
	if err != nil {
		t.Fatalf("LoadBackup newest: %v", err)
	}
	if len(got) != 1 || got[0].FileName != "a.pdf" {
		t.Errorf("backup content = %+v", got)
	}
	if _, err := LoadBackup(ctx, b, FileName); err == nil {
		t.Error("LoadBackup of the journal itself should be rejected")
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"Purchase Order", PurchaseOrder, true},
		{"purchase_order", PurchaseOrder, true},
		{"SalesOrder", SalesOrder, true},
		{"supplier-invoice", SupplierInvoice, true},
		{"CUSTOMER INVOICE", CustomerInvoice, true},
		{"Credit Note", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseCategory(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCategory(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStoredNameAndFolder(t *testing.T) {
	if got := StoredName("6024", PurchaseOrder, "PO100.pdf"); got != "6024 - Purchase Order - PO100.pdf" {
		t.Errorf("StoredName = %q", got)
	}
	already := "6024 - Purchase Order - PO100.pdf"
	if got := StoredName("6024", PurchaseOrder, already); got != already {
		t.Errorf("StoredName re-prefixed: %q", got)
	}
	if got := FolderPath("6024.0", SupplierInvoice); got != "6024/Supplier Invoice" {
		t.Errorf("FolderPath = %q", got)
	}
	if got := SanitizeFolderName("A/B: c*d"); got != "AB cd" {
		t.Errorf("SanitizeFolderName = %q", got)
	}
}
