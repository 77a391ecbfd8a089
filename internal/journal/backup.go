package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/eargollo/dochub/internal/storage"
)

const (
	backupPrefix = ".dochub-journal.backup-"
	backupSuffix = ".json"
	backupStamp  = "20060102T150405.000000000Z"
)

// BackupName returns the backup file name for a snapshot taken at t.
func BackupName(t time.Time) string {
	return backupPrefix + t.UTC().Format(backupStamp) + backupSuffix
}

// IsBackupName reports whether name is a journal backup file.
func IsBackupName(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix)
}

// WriteBackup stores entries as a timestamped backup beside the journal and
// returns the relative path written. The schema is the journal's own.
func WriteBackup(ctx context.Context, root storage.Backend, entries []Entry, at time.Time) (string, error) {
	data, err := Encode(entries)
	if err != nil {
		return "", fmt.Errorf("journal backup: %w", err)
	}
	p, err := root.WriteFile(ctx, "", BackupName(at), data)
	if err != nil {
		return "", fmt.Errorf("journal backup: %w", err)
	}
	return p, nil
}

// ListBackups returns the backup file names at root, oldest first.
func ListBackups(ctx context.Context, root storage.Backend) ([]string, error) {
	files, err := root.ListFiles(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var names []string
	for _, f := range files {
		if IsBackupName(f.Name) {
			names = append(names, f.Name)
		}
	}
	// The timestamp layout sorts lexically.
	sort.Strings(names)
	return names, nil
}

// PruneBackups deletes all but the newest keep backups. keep <= 0 keeps all.
// Returns the number of backups removed.
func PruneBackups(ctx context.Context, root storage.Backend, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	names, err := ListBackups(ctx, root)
	if err != nil {
		return 0, err
	}
	if len(names) <= keep {
		return 0, nil
	}
	removed := 0
	for _, name := range names[:len(names)-keep] {
		if err := root.Delete(ctx, name); err != nil {
			slog.Warn("prune journal backup", "name", name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// LoadBackup reads a backup written by WriteBackup.
func LoadBackup(ctx context.Context, root storage.Backend, name string) ([]Entry, error) {
	if !IsBackupName(name) {
		return nil, fmt.Errorf("%q is not a journal backup", name)
	}
	data, err := root.ReadFile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	entries, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode backup %s: %w", name, err)
	}
	return entries, nil
}
