package linker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/kvstore"
)

// ReadCursor returns the ID a scan should start from: one past the stored
// last-matched ID, or fallback when nothing is stored yet.
func ReadCursor(ctx context.Context, store kvstore.Store, key string, fallback int) (int, error) {
	last, ok, err := lastMatched(ctx, store, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	return last + 1, nil
}

func lastMatched(ctx context.Context, store kvstore.Store, key string) (int, bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("linker: read cursor: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false, fmt.Errorf("linker: parse cursor %q: %w", raw, err)
	}
	return n, true, nil
}

// StoreCheckpointer persists matched IDs under Key. The stored value never
// moves backwards.
type StoreCheckpointer struct {
	Store kvstore.Store
	Key   string
}

var _ Checkpointer = StoreCheckpointer{}

// Checkpoint writes id unless a larger ID is already stored.
func (c StoreCheckpointer) Checkpoint(ctx context.Context, id int) error {
	last, ok, err := lastMatched(ctx, c.Store, c.Key)
	if err != nil {
		return err
	}
	if ok && last >= id {
		return nil
	}
	return c.Store.Put(ctx, c.Key, strconv.Itoa(id))
}
