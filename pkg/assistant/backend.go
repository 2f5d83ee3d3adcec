package assistant

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Backend defines the minimal persistence operations the store needs. The
// collection file and knowledge files all flow through it, so tests can
// swap in an in-memory implementation.
type Backend interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	List(prefix string) ([]string, error)
	Delete(path string) error
}

// FileBackend stores collection data on the local filesystem under root.
// Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated collection on disk.
type FileBackend struct {
	root     string
	fileMode os.FileMode
}

// NewFileBackend creates a filesystem-backed Backend rooted at root.
func NewFileBackend(root string) (*FileBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("assistant: backend root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &FileBackend{root: abs, fileMode: 0o600}, nil
}

// Read loads file contents from disk.
func (f *FileBackend) Read(p string) ([]byte, error) {
	full, err := f.fullPath(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Write persists bytes atomically, creating parent directories as needed.
func (f *FileBackend) Write(p string, data []byte) error {
	full, err := f.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, f.fileMode); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}

// List enumerates files contained within prefix.
func (f *FileBackend) List(prefix string) ([]string, error) {
	full, err := f.fullPath(prefix)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{normalizePath(prefix)}, nil
	}
	var paths []string
	err = filepath.WalkDir(full, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, normalizePath(filepath.ToSlash(rel)))
		return nil
	})
	return paths, err
}

// Delete removes the file or directory at the provided path.
func (f *FileBackend) Delete(p string) error {
	full, err := f.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Root returns the absolute backend root, used by the store watcher.
func (f *FileBackend) Root() string { return f.root }

func (f *FileBackend) fullPath(p string) (string, error) {
	norm := strings.TrimPrefix(normalizePath(p), "/")
	full := filepath.Clean(filepath.Join(f.root, filepath.FromSlash(norm)))
	// A bare prefix check would accept a sibling like root+"c", so require
	// the separator (or the root itself).
	if full != f.root && !strings.HasPrefix(full, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("assistant: path %s escapes backend root", p)
	}
	return full, nil
}

func normalizePath(p string) string {
	return strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(p)), "./")
}
