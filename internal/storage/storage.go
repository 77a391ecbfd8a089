// Package storage abstracts the managed document tree behind a narrow
// interface so that journal persistence and reconciliation run unchanged
// against a local folder, an Azure Blob container or a GCS bucket.
//
// Paths are slash-separated and relative to the storage root; "" is the root.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// FileInfo describes a file returned by ListFiles.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Backend is the set of primitives the hub needs from a storage root.
type Backend interface {
	// WriteFile stores data as folder/name, replacing any existing file in a
	// single step, and returns the relative path written.
	WriteFile(ctx context.Context, folder, name string, data []byte) (string, error)
	// ReadFile returns the content at p. Returns ErrNotFound if absent.
	ReadFile(ctx context.Context, p string) ([]byte, error)
	// Delete removes the file at p. Returns ErrNotFound if absent.
	Delete(ctx context.Context, p string) error
	// ListSubdirectories returns the names of the directories directly under
	// folder, sorted.
	ListSubdirectories(ctx context.Context, folder string) ([]string, error)
	// ListFiles returns the regular files directly under folder, sorted by name.
	ListFiles(ctx context.Context, folder string) ([]FileInfo, error)
	// String describes the root for logs.
	String() string
}

// New creates the backend selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocal(cfg.Root)
	case BackendAzure:
		return NewAzure(ctx, cfg.Azure)
	case BackendGCS:
		return NewGCS(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Join joins relative path elements with forward slashes.
func Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}

func validatePath(p string) error {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return nil
}

// objectKey maps a relative path onto an object key under prefix.
func objectKey(prefix, p string) string {
	return Join(prefix, p)
}

// listPrefix returns the object prefix that lists the direct children of
// folder, always ending in "/" unless it is the bucket root.
func listPrefix(prefix, folder string) string {
	k := objectKey(prefix, folder)
	if k == "" || k == "." {
		return ""
	}
	return k + "/"
}

// childName strips the listing prefix and any trailing slash from an object
// key or common prefix.
func childName(listed, key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, listed), "/")
}
