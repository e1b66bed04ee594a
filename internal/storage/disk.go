package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskStore keeps objects as files under a directory on the local
// filesystem. It has no signing capability of its own; pair it with an
// HMACSigner and the server's blob endpoint.
type DiskStore struct {
	baseDir string
}

// NewDiskStore creates a DiskStore rooted at baseDir. The directory is
// created if it does not already exist.
func NewDiskStore(baseDir string) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create local base directory %q: %w", baseDir, err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve absolute path for %q: %w", baseDir, err)
	}
	return &DiskStore{baseDir: abs}, nil
}

// Get reads the file stored at key.
func (s *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	dest, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(dest)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to read file %q: %w", dest, err)
	}
	return data, nil
}

// Put writes data to baseDir/key, creating any intermediate directories as
// needed. The file is written to a temporary sibling and renamed into place
// so readers never observe a partial object.
func (s *DiskStore) Put(_ context.Context, key string, data []byte, _ string) error {
	dest, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("storage: failed to create directory for %q: %w", key, err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: failed to create file for %q: %w", key, err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: failed to write file %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: failed to close file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: failed to move file into place at %q: %w", dest, err)
	}
	return nil
}

// path maps key onto the filesystem, refusing keys that are not already
// normalised so nothing can escape baseDir.
func (s *DiskStore) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(key)), nil
}
