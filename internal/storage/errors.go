package storage

import "errors"

var (
	// ErrNotFound is returned when a file or folder does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRootNotFound is returned when the configured storage root is missing.
	ErrRootNotFound = errors.New("storage root not found")
	// ErrInvalidPath is returned for paths that escape the storage root.
	ErrInvalidPath = errors.New("invalid path")
	// ErrEmptyName is returned when a file name is empty.
	ErrEmptyName = errors.New("empty file name")
)
