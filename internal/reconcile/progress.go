package reconcile

import "sync/atomic"

// Progress holds live counters of a running rebuild. All fields are atomic
// so the scanner can write them while the HTTP handler reads them.
type Progress struct {
	BatchesTotal   atomic.Int64
	BatchesScanned atomic.Int64
	FilesFound     atomic.Int64
	NewEntries     atomic.Int64
	Preserved      atomic.Int64
	Orphaned       atomic.Int64
	FilesHashed    atomic.Int64
	CacheHits      atomic.Int64
	Errors         atomic.Int64
}

// Update is reported once per top-level batch directory.
type Update struct {
	BatchID string `json:"batchId"`
	Scanned int    `json:"scanned"`
	Total   int    `json:"total"` // 0 when unknown
}

// ProgressFunc observes a rebuild. It is called from the scanning goroutine.
type ProgressFunc func(Update)

// ErrorReporter records a per-file scan error: the scanner has already added
// it to the result; reporters persist or log it.
type ErrorReporter func(path, stage, errMsg string)
