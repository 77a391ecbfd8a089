package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Key is the composite identity of a journal entry.
type Key struct {
	BatchID  string
	Category Category
	FileName string
}

// String renders the key as batch|category|file after canonicalizing the
// batch id, so "6024" and " 6024" address the same slot.
func (k Key) String() string {
	return CanonicalBatchID(k.BatchID) + "|" + k.Category.Label() + "|" + k.FileName
}

// Entry is one physical file under management.
type Entry struct {
	BatchID      BatchID   `json:"batchId"`
	Category     Category  `json:"category"`
	FileName     string    `json:"fileName"`
	UploadedAt   time.Time `json:"uploadedAt"`
	RelativePath string    `json:"path"`
	FileSize     *int64    `json:"fileSize,omitempty"`
	ContentHash  string    `json:"contentHash,omitempty"`
}

// Key returns the entry's composite key.
func (e Entry) Key() Key {
	return Key{BatchID: string(e.BatchID), Category: e.Category, FileName: e.FileName}
}

// Size returns the recorded size and whether one was recorded. Entries
// written before sizes were tracked report false.
func (e Entry) Size() (int64, bool) {
	if e.FileSize == nil {
		return 0, false
	}
	return *e.FileSize, true
}

// SizePtr is a convenience for populating Entry.FileSize.
func SizePtr(n int64) *int64 { return &n }

// BatchID is a batch identifier in canonical string form. It unmarshals
// from either a JSON string or a JSON number so that journals written by
// tools that stored ids numerically load into the same keys.
type BatchID string

// CanonicalBatchID trims surrounding whitespace and renders integral
// numeric forms ("6024.0", "6.024e3") as plain integers.
func CanonicalBatchID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if strings.ContainsAny(s, ".eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return s
}

func (b *BatchID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("batchId: %w", err)
		}
		*b = BatchID(CanonicalBatchID(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("batchId: %w", err)
	}
	*b = BatchID(CanonicalBatchID(n.String()))
	return nil
}

// StoredName is the file name a document is filed under:
// "{batch} - {category label} - {original}". Names that already carry the
// prefix are returned unchanged.
func StoredName(batchID string, c Category, original string) string {
	prefix := CanonicalBatchID(batchID) + " - " + c.Label() + " - "
	if strings.HasPrefix(original, prefix) {
		return original
	}
	return prefix + original
}

// FolderPath is the folder a batch/category's files are stored in.
func FolderPath(batchID string, c Category) string {
	return CanonicalBatchID(batchID) + "/" + c.FolderName()
}
