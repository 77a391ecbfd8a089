package reconcile

import "fmt"

// ScanResult documents one rebuild.
//
// When Errors is empty, FilesFound == NewEntriesAdded +
// ExistingEntriesPreserved + len(OrphanedFiles). A partial failure may leave
// the right-hand side short but never larger.
type ScanResult struct {
	FilesFound               int      `json:"filesFound"`
	NewEntriesAdded          int      `json:"newEntriesAdded"`
	ExistingEntriesPreserved int      `json:"existingEntriesPreserved"`
	OrphanedFiles            []string `json:"orphanedFiles"`
	Errors                   []string `json:"errors"`
	BackupCreated            bool     `json:"backupCreated"`
	BackupPath               string   `json:"backupPath,omitempty"`

	BatchesScanned int  `json:"batchesScanned"`
	FilesHashed    int  `json:"filesHashed"`
	CacheHits      int  `json:"cacheHits"`
	Persisted      bool `json:"persisted"`
}

// Balanced reports whether the accounting identity holds.
func (r *ScanResult) Balanced() bool {
	return r.FilesFound == r.NewEntriesAdded+r.ExistingEntriesPreserved+len(r.OrphanedFiles)
}

func (r *ScanResult) addError(path, stage string, err error) string {
	msg := fmt.Sprintf("%s %s: %v", stage, path, err)
	r.Errors = append(r.Errors, msg)
	return msg
}
