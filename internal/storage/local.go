package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tempMarker = ".tmp-"

// Local is a Backend rooted at a directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal returns a Local backend. The root directory must already exist:
// a missing root is a configuration error, not something to create silently.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty path", ErrRootNotFound)
	}
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}
	if err != nil {
		return nil, fmt.Errorf("stat storage root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %q is not a directory", root)
	}
	return &Local{root: root}, nil
}

// Root returns the absolute directory this backend manages.
func (l *Local) Root() string { return l.root }

func (l *Local) String() string { return "local:" + l.root }

func (l *Local) abs(p string) (string, error) {
	if err := validatePath(p); err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(p)), nil
}

// WriteFile writes to a temp file in the target directory and renames it over
// the destination, so readers never observe a partially written file.
func (l *Local) WriteFile(ctx context.Context, folder, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	dir, err := l.abs(folder)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create folder %q: %w", folder, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+tempMarker+"*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %q: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync %q: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close %q: %w", name, err)
	}
	if err = os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("rename %q: %w", name, err)
	}
	return Join(folder, name), nil
}

func (l *Local) ReadFile(ctx context.Context, p string) ([]byte, error) {
	full, err := l.abs(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", p, err)
	}
	return data, nil
}

func (l *Local) Delete(ctx context.Context, p string) error {
	full, err := l.abs(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return fmt.Errorf("delete %q: %w", p, err)
	}
	return nil
}

func (l *Local) ListSubdirectories(ctx context.Context, folder string) ([]string, error) {
	entries, err := l.readDir(folder)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (l *Local) ListFiles(ctx context.Context, folder string) ([]FileInfo, error) {
	entries, err := l.readDir(folder)
	if err != nil {
		return nil, err
	}
	var files []FileInfo
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink != 0 || !e.Type().IsRegular() {
			continue
		}
		// In-flight writes from WriteFile.
		if strings.HasPrefix(e.Name(), ".") && strings.Contains(e.Name(), tempMarker) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return files, fmt.Errorf("stat %q: %w", Join(folder, e.Name()), err)
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (l *Local) readDir(folder string) ([]fs.DirEntry, error) {
	full, err := l.abs(folder)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, folder)
	}
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", folder, err)
	}
	return entries, nil
}
