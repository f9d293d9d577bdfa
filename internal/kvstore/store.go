// Package kvstore persists small string values such as the linker cursor and
// the last reminder date.
package kvstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store is a single-writer string key-value store.
type Store interface {
	// Get returns the value for key, or apperr.ErrNotFound when unset.
	Get(ctx context.Context, key string) (string, error)
	// Put replaces the value for key.
	Put(ctx context.Context, key, value string) error
}

// Backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the Store for backend rooted at path. The caller closes the
// returned closer.
func Open(backend, path string) (Store, func() error, error) {
	switch backend {
	case BackendFile, "":
		s, err := NewFS(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("kvstore: mkdir: %w", err)
		}
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("kvstore: unknown backend %q", backend)
	}
}
