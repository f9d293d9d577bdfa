package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/wigen/internal/apperr"
)

// FS stores each key as a file under a root directory.
type FS struct {
	root string // absolute path
}

var _ Store = (*FS)(nil)

// NewFS creates the root directory if needed and returns an FS store.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("kvstore: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: mkdir root: %w", err)
	}
	return &FS{root: abs}, nil
}

// keyPath rejects keys that would escape the root.
func (f *FS) keyPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("kvstore: invalid key %q", key)
	}
	return filepath.Join(f.root, key), nil
}

// Get reads the file for key. Surrounding whitespace is trimmed.
func (f *FS) Get(_ context.Context, key string) (string, error) {
	p, err := f.keyPath(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.ErrNotFound
		}
		return "", fmt.Errorf("kvstore: read %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Put atomically writes value: tmp file → fsync → rename.
func (f *FS) Put(_ context.Context, key, value string) error {
	p, err := f.keyPath(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.root, ".wigen-tmp-*")
	if err != nil {
		return fmt.Errorf("kvstore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(value); err != nil {
		return fmt.Errorf("kvstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("kvstore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kvstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("kvstore: rename: %w", err)
	}
	success = true
	return nil
}
