package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/models"
)

const (
	spoolExt      = ".eml"
	deletedSuffix = ".deleted"
)

// Spool is a mailbox backed by a directory of .eml files. Message IDs are
// file names in the spool root; folders are subdirectories.
type Spool struct {
	root string // absolute path to spool directory
	mu   sync.Mutex
}

// NewSpool returns a Spool rooted at dir, creating it if needed.
func NewSpool(dir string) (*Spool, error) {
	if dir == "" {
		return nil, errors.New("mailbox: spool dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("mailbox: resolve spool: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("mailbox: create spool: %w", err)
	}
	return &Spool{root: abs}, nil
}

// Root returns the absolute spool directory.
func (s *Spool) Root() string { return s.root }

// safePath resolves rel against the spool root and rejects any result that
// escapes it.
func (s *Spool) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if rel == "" || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("mailbox: invalid spool path %q", rel)
	}
	abs := filepath.Join(s.root, cleaned)
	if !strings.HasPrefix(abs, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("mailbox: path escapes spool root: %s", rel)
	}
	return abs, nil
}

func (s *Spool) messagePath(id string) (string, error) {
	if !strings.HasSuffix(id, spoolExt) || strings.ContainsRune(id, filepath.Separator) || strings.Contains(id, "/") {
		return "", fmt.Errorf("mailbox: invalid message id %q", id)
	}
	return s.safePath(id)
}

// Search lists spool messages whose From header contains c.From and whose
// Date header falls on c.On's calendar day, ordered by file name.
func (s *Spool) Search(ctx context.Context, c models.SearchCriteria) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("mailbox: list spool: %w", err)
	}
	y, mo, d := c.On.Date()
	want := strings.ToLower(c.From)

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, spoolExt) || strings.HasPrefix(name, ".") {
			continue
		}
		if s.isDeleted(name) {
			continue
		}
		hdr, err := readHeader(filepath.Join(s.root, name))
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(hdr.Get("From")), want) {
			continue
		}
		sent, err := hdr.Date()
		if err != nil {
			continue
		}
		sy, smo, sd := sent.In(c.On.Location()).Date()
		if sy == y && smo == mo && sd == d {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func readHeader(path string) (mail.Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return msg.Header, nil
}

// Fetch returns the raw message.
func (s *Spool) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.messagePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("mailbox: message %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mailbox: read %s: %w", id, err)
	}
	return data, nil
}

// Copy atomically writes the message into the dest folder: tmp file, fsync,
// rename.
func (s *Spool) Copy(ctx context.Context, id, dest string) error {
	data, err := s.Fetch(ctx, id)
	if err != nil {
		return err
	}
	dir, err := s.safePath(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mailbox: mkdir %s: %w", dest, err)
	}

	tmp, err := os.CreateTemp(dir, ".wigen-tmp-*")
	if err != nil {
		return fmt.Errorf("mailbox: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("mailbox: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("mailbox: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("mailbox: close temp: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, id)); err != nil {
		return fmt.Errorf("mailbox: rename: %w", err)
	}
	success = true
	return nil
}

// MarkDeleted drops a marker file next to the message.
func (s *Spool) MarkDeleted(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.messagePath(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("mailbox: flag %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(p+deletedSuffix, nil, 0o644); err != nil {
		return fmt.Errorf("mailbox: flag %s: %w", id, err)
	}
	return nil
}

func (s *Spool) isDeleted(name string) bool {
	_, err := os.Stat(filepath.Join(s.root, name+deletedSuffix))
	return err == nil
}

// Purge removes every marked message and its marker.
func (s *Spool) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	markers, err := filepath.Glob(filepath.Join(s.root, "*"+spoolExt+deletedSuffix))
	if err != nil {
		return fmt.Errorf("mailbox: purge: %w", err)
	}
	for _, marker := range markers {
		msg := strings.TrimSuffix(marker, deletedSuffix)
		if err := os.Remove(msg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("mailbox: purge %s: %w", filepath.Base(msg), err)
		}
		if err := os.Remove(marker); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("mailbox: purge marker: %w", err)
		}
	}
	return nil
}

// Close is a no-op.
func (s *Spool) Close() error { return nil }
