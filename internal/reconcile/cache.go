package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// hashCache looks up content hashes in the file_cache table using the key
// (path, size, mtime). A match means the file is unchanged since it was last
// hashed. A nil db disables the cache.
type hashCache struct {
	db *sql.DB
}

func (c hashCache) lookup(ctx context.Context, path string, size int64, mtime time.Time) (string, bool) {
	if c.db == nil {
		return "", false
	}
	var hash string
	err := c.db.QueryRowContext(ctx,
		`SELECT content_hash FROM file_cache WHERE path = ? AND size = ? AND mtime = ?`,
		path, size, mtime.Unix()).Scan(&hash)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("cache check: query error", "path", path, "error", err)
		}
		return "", false
	}
	return hash, true
}

func (c hashCache) store(ctx context.Context, path string, size int64, mtime time.Time, hash string) {
	if c.db == nil {
		return
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO file_cache (path, size, mtime, content_hash, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			content_hash = excluded.content_hash,
			cached_at = excluded.cached_at`,
		path, size, mtime.Unix(), hash, time.Now().Unix())
	if err != nil && ctx.Err() == nil {
		slog.Warn("cache store failed", "path", path, "error", err)
	}
}
