// Package scanner pulls intake requests out of a mailbox and turns each into a
// linked pair of tracking items.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/wigen/internal/linker"
	"github.com/starford/wigen/internal/models"
)

// Mailbox is the mail collaborator. IDs are opaque, stable message identifiers.
type Mailbox interface {
	Search(ctx context.Context, c models.SearchCriteria) ([]string, error)
	Fetch(ctx context.Context, id string) ([]byte, error)
	Copy(ctx context.Context, id, dest string) error
	MarkDeleted(ctx context.Context, id string) error
	Purge(ctx context.Context) error
	Close() error
}

// Tracker is the tracking collaborator.
type Tracker interface {
	linker.Tracker
	CreateItem(ctx context.Context, project string, payload models.Payload) (*models.Item, error)
}

// Scanner lists candidate messages.
type Scanner struct {
	mailbox Mailbox
	now     func() time.Time
}

// NewScanner returns a Scanner reading from mb. now may be nil.
func NewScanner(mb Mailbox, now func() time.Time) *Scanner {
	if now == nil {
		now = time.Now
	}
	return &Scanner{mailbox: mb, now: now}
}

// Candidates searches one day at a time from today back lookbackDays days and
// returns the message IDs from sender, newest day first. Blank IDs are dropped
// and each ID appears once, at its first position.
func (s *Scanner) Candidates(ctx context.Context, sender string, lookbackDays int) ([]string, error) {
	if lookbackDays < 0 {
		return nil, fmt.Errorf("scanner: negative lookback %d", lookbackDays)
	}
	today := s.now()
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i <= lookbackDays; i++ {
		day := today.AddDate(0, 0, -i)
		ids, err := s.mailbox.Search(ctx, models.SearchCriteria{From: sender, On: day})
		if err != nil {
			return nil, fmt.Errorf("scanner: search %s: %w", day.Format(time.DateOnly), err)
		}
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}
