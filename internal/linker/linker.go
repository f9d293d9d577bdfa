// Package linker locates a freshly created parent/child item pair by task tag
// and links them.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/models"
	"github.com/starford/wigen/internal/telemetry"
)

// DefaultLinkComment is attached to every parent link created by the linker.
const DefaultLinkComment = "Parent/Child connection created automatically"

// Tracker is the subset of the tracking client the linker needs.
type Tracker interface {
	// GetItem returns apperr.ErrNotFound for IDs that do not exist.
	GetItem(ctx context.Context, id int, withRelations bool) (*models.Item, error)
	AddHierarchicalLink(ctx context.Context, childID, parentID int, comment string) error
}

// Checkpointer records the ID of each newly matched item.
type Checkpointer interface {
	Checkpoint(ctx context.Context, id int) error
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(ctx context.Context, id int) error

// Checkpoint calls f.
func (f CheckpointFunc) Checkpoint(ctx context.Context, id int) error { return f(ctx, id) }

// Bound limits a scan. Zero fields are unbounded on that axis; a Bound with
// both fields zero is rejected by New.
type Bound struct {
	// MaxIDDelta is the number of IDs probed from the start ID.
	MaxIDDelta int
	// Budget is the wall-clock time a single scan may take.
	Budget time.Duration
}

// Options configures a Linker.
type Options struct {
	ParentType string
	ChildType  string
	Comment    string
	Bound      Bound
	Logger     *slog.Logger
}

// Linker scans the item ID space forward from a cursor.
type Linker struct {
	tracker    Tracker
	checkpoint Checkpointer
	opts       Options
	logger     *slog.Logger
}

// New returns a Linker. cp may be nil when no checkpointing is wanted.
func New(tracker Tracker, cp Checkpointer, opts Options) (*Linker, error) {
	if opts.Bound.MaxIDDelta <= 0 && opts.Bound.Budget <= 0 {
		return nil, errors.New("linker: scan bound is required")
	}
	if opts.ParentType == "" || opts.ChildType == "" {
		return nil, errors.New("linker: parent and child types are required")
	}
	if opts.Comment == "" {
		opts.Comment = DefaultLinkComment
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cp == nil {
		cp = CheckpointFunc(func(context.Context, int) error { return nil })
	}
	return &Linker{tracker: tracker, checkpoint: cp, opts: opts, logger: logger}, nil
}

// Kind classifies an item type name.
func (l *Linker) Kind(typeName string) models.ItemKind {
	switch typeName {
	case l.opts.ParentType:
		return models.KindParent
	case l.opts.ChildType:
		return models.KindChild
	default:
		return models.KindOther
	}
}

// Link scans IDs from startID upward until it has seen one parent-type and
// one child-type item carrying taskTag, then links the child under the
// parent. The first match of each type wins. Each new match is checkpointed
// before the scan continues.
func (l *Linker) Link(ctx context.Context, startID int, taskTag string) (models.LinkResult, error) {
	if taskTag == "" {
		return models.LinkResult{}, errors.New("linker: empty task tag")
	}

	scanCtx := ctx
	if l.opts.Bound.Budget > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, l.opts.Bound.Budget)
		defer cancel()
	}

	var (
		parentID, childID       int
		foundParent, foundChild bool
		// seen is the highest existing ID probed, saved is the highest
		// checkpointed by this scan.
		seen, saved int
	)
	exhausted := func(last int, reason string) error {
		// IDs are allocated in order, so nothing this or a later message
		// creates can sit at or below an item that already existed.
		if seen > saved {
			if err := l.checkpoint.Checkpoint(ctx, seen); err != nil {
				return fmt.Errorf("linker: checkpoint %d: %w", seen, err)
			}
		}
		return &ScanExhaustedError{
			TaskTag:     taskTag,
			Start:       startID,
			Last:        last,
			FoundParent: foundParent,
			FoundChild:  foundChild,
			Reason:      reason,
		}
	}

	probes := telemetry.Instruments().LinkerProbes
	id := startID
	for !foundParent || !foundChild {
		if limit := l.opts.Bound.MaxIDDelta; limit > 0 && id-startID >= limit {
			return models.LinkResult{}, exhausted(id-1, fmt.Sprintf("max id delta %d reached", limit))
		}
		if err := ctx.Err(); err != nil {
			return models.LinkResult{}, fmt.Errorf("linker: scan cancelled at %d: %w", id, err)
		}
		if scanCtx.Err() != nil {
			return models.LinkResult{}, exhausted(id-1, fmt.Sprintf("budget %s elapsed", l.opts.Bound.Budget))
		}

		item, err := l.tracker.GetItem(scanCtx, id, false)
		probes.Add(ctx, 1)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			l.logger.Debug("linker: item missing", slog.Int("id", id))
		case err != nil && ctx.Err() == nil && scanCtx.Err() != nil:
			return models.LinkResult{}, exhausted(id-1, fmt.Sprintf("budget %s elapsed", l.opts.Bound.Budget))
		case err != nil:
			return models.LinkResult{}, fmt.Errorf("linker: get item %d: %w", id, err)
		default:
			seen = id
		}
		if err == nil && item.HasTaskTag && item.TaskTag == taskTag {
			itemID := item.ID
			if itemID == 0 {
				itemID = id
			}
			newMatch := false
			switch l.Kind(item.Type) {
			case models.KindParent:
				if !foundParent {
					parentID, foundParent, newMatch = itemID, true, true
				}
			case models.KindChild:
				if !foundChild {
					childID, foundChild, newMatch = itemID, true, true
				}
			}
			if newMatch {
				l.logger.Info("linker: matched item",
					slog.Int("id", itemID),
					slog.String("type", item.Type),
					slog.String("task", taskTag),
					slog.String("title", item.Title))
				if err := l.checkpoint.Checkpoint(ctx, itemID); err != nil {
					return models.LinkResult{}, fmt.Errorf("linker: checkpoint %d: %w", itemID, err)
				}
				saved = max(saved, itemID)
			}
		}
		id++
	}

	return l.connect(ctx, parentID, childID)
}

// StartFor returns the ID a scan for items created in [low, high] begins at.
// It is start unless high lies beyond the ID bound from start, in which case
// the scan is seeded at low so the new items stay reachable.
func (l *Linker) StartFor(start, low, high int) int {
	if d := l.opts.Bound.MaxIDDelta; d > 0 && low > start && high-start >= d {
		return low
	}
	return start
}

func (l *Linker) connect(ctx context.Context, parentID, childID int) (models.LinkResult, error) {
	parent, err := l.tracker.GetItem(ctx, parentID, true)
	if err != nil {
		return models.LinkResult{}, fmt.Errorf("linker: fetch parent %d: %w", parentID, err)
	}
	child, err := l.tracker.GetItem(ctx, childID, true)
	if err != nil {
		return models.LinkResult{}, fmt.Errorf("linker: fetch child %d: %w", childID, err)
	}

	res := models.LinkResult{ParentID: parent.ID, ChildID: child.ID}
	if child.HasParent(parent.ID) {
		res.Existing = true
		l.logger.Info("linker: link already present", slog.Int("parent", parent.ID), slog.Int("child", child.ID))
		return res, nil
	}
	if err := l.tracker.AddHierarchicalLink(ctx, child.ID, parent.ID, l.opts.Comment); err != nil {
		return models.LinkResult{}, fmt.Errorf("linker: link %d under %d: %w", child.ID, parent.ID, err)
	}
	l.logger.Info("linker: linked", slog.Int("parent", parent.ID), slog.Int("child", child.ID))
	return res, nil
}
