// Package service coordinates intake runs for the CLI, HTTP and MCP surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/intake"
	"github.com/starford/wigen/internal/kvstore"
	"github.com/starford/wigen/internal/linker"
	"github.com/starford/wigen/internal/reminder"
	"github.com/starford/wigen/internal/scanner"
	"github.com/starford/wigen/internal/workitem"
)

// Event kinds published during a run.
const (
	EventRunStarted      = "run.started"
	EventMessageLinked   = "message.linked"
	EventMessageOrphaned = "message.orphaned"
	EventMessageSkipped  = "message.skipped"
	EventRunCompleted    = "run.completed"
)

// Publisher receives run events.
type Publisher interface {
	PublishRunEvent(kind string, data any)
}

// MailboxOpener connects to the mailbox for one run.
type MailboxOpener func(ctx context.Context) (scanner.Mailbox, error)

// Deps are the collaborators of a Service.
type Deps struct {
	OpenMailbox MailboxOpener
	Tracker     scanner.Tracker
	Store       kvstore.Store
	Linker      *linker.Linker
	Extractor   *intake.Extractor
	Builder     *workitem.Builder
	// Reminder is nil when reminders are disabled.
	Reminder *reminder.Scheduler
	Events   Publisher
}

// Options configures a Service.
type Options struct {
	Pipeline scanner.Config
	// CredentialChanged is the date the tracking token was issued.
	CredentialChanged time.Time
	Logger            *slog.Logger
	Now               func() time.Time
}

// RunResult is the outcome of one Run.
type RunResult struct {
	Report        scanner.Report  `json:"report"`
	Summary       scanner.Summary `json:"summary"`
	ReminderSent  bool            `json:"reminder_sent"`
	ReminderError string          `json:"reminder_error,omitempty"`
}

// CursorInfo describes the linker cursor.
type CursorInfo struct {
	Key string `json:"key"`
	// Set is false until the linker has matched its first item.
	Set         bool `json:"set"`
	LastMatched int  `json:"last_matched,omitempty"`
	NextStart   int  `json:"next_start"`
}

// Service runs the intake pipeline one batch at a time.
type Service struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	running sync.Mutex

	mu   sync.RWMutex
	last *RunResult
}

type nopPublisher struct{}

func (nopPublisher) PublishRunEvent(string, any) {}

// New validates deps and returns a Service.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.OpenMailbox == nil || deps.Tracker == nil || deps.Store == nil || deps.Linker == nil {
		return nil, errors.New("service: mailbox, tracker, store and linker are required")
	}
	if deps.Extractor == nil {
		deps.Extractor = intake.NewExtractor(nil)
	}
	if deps.Builder == nil {
		deps.Builder = workitem.NewBuilder()
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, opts: opts, logger: logger}, nil
}

// Run processes one batch and then evaluates the credential reminder. It
// returns apperr.ErrRunInProgress when another run is active.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	if !s.running.TryLock() {
		return nil, apperr.ErrRunInProgress
	}
	defer s.running.Unlock()

	s.deps.Events.PublishRunEvent(EventRunStarted, map[string]any{"started_at": s.opts.Now()})

	res := &RunResult{}
	runErr := s.runBatch(ctx, res)
	if runErr != nil {
		s.logger.Error("service: run failed", slog.String("error", runErr.Error()))
	}

	if s.deps.Reminder != nil && !s.opts.CredentialChanged.IsZero() {
		sent, err := s.deps.Reminder.MaybeNotify(ctx, s.opts.CredentialChanged)
		res.ReminderSent = sent
		if err != nil {
			res.ReminderError = err.Error()
			s.logger.Error("service: reminder failed", slog.String("error", err.Error()))
			runErr = errors.Join(runErr, err)
		}
	}

	res.Summary = res.Report.Summary()
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	s.deps.Events.PublishRunEvent(EventRunCompleted, map[string]any{
		"run_id":        res.Report.RunID,
		"summary":       res.Summary,
		"error":         res.Report.Error,
		"reminder_sent": res.ReminderSent,
	})
	return res, runErr
}

func (s *Service) runBatch(ctx context.Context, res *RunResult) (err error) {
	mb, err := s.deps.OpenMailbox(ctx)
	if err != nil {
		res.Report.Error = err.Error()
		return fmt.Errorf("service: open mailbox: %w", err)
	}
	defer func() {
		if cerr := mb.Close(); cerr != nil {
			s.logger.Warn("service: close mailbox", slog.String("error", cerr.Error()))
		}
	}()

	p, err := scanner.NewPipeline(scanner.Deps{
		Mailbox:   mb,
		Tracker:   s.deps.Tracker,
		Store:     s.deps.Store,
		Linker:    s.deps.Linker,
		Extractor: s.deps.Extractor,
		Builder:   s.deps.Builder,
	}, s.opts.Pipeline,
		scanner.WithLogger(s.logger),
		scanner.WithClock(s.opts.Now),
		scanner.WithObserver(s.publishOutcome),
	)
	if err != nil {
		return err
	}

	res.Report, err = p.Run(ctx)
	return err
}

func (s *Service) publishOutcome(o scanner.Outcome) {
	switch o.Status {
	case scanner.StatusLinked:
		s.deps.Events.PublishRunEvent(EventMessageLinked, o)
	case scanner.StatusOrphaned:
		s.deps.Events.PublishRunEvent(EventMessageOrphaned, o)
	case scanner.StatusSkipped:
		s.deps.Events.PublishRunEvent(EventMessageSkipped, o)
	}
}

// LastRun returns the result of the most recent run.
func (s *Service) LastRun() (*RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil, fmt.Errorf("service: no run yet: %w", apperr.ErrNotFound)
	}
	return s.last, nil
}

// Cursor reads the linker cursor.
func (s *Service) Cursor(ctx context.Context) (CursorInfo, error) {
	key := s.opts.Pipeline.CursorKey
	next, err := linker.ReadCursor(ctx, s.deps.Store, key, -1)
	if err != nil {
		return CursorInfo{}, err
	}
	if next == -1 {
		return CursorInfo{Key: key, NextStart: s.opts.Pipeline.StartID}, nil
	}
	return CursorInfo{Key: key, Set: true, LastMatched: next - 1, NextStart: next}, nil
}

// Preview extracts a raw message without touching any collaborator.
func (s *Service) Preview(raw []byte) scanner.Preview {
	return scanner.BuildPreview(s.deps.Extractor, s.deps.Builder, raw)
}

// ReminderStatus evaluates the reminder policy without sending.
func (s *Service) ReminderStatus(ctx context.Context) (reminder.Decision, error) {
	if s.deps.Reminder == nil || s.opts.CredentialChanged.IsZero() {
		return reminder.Decision{}, fmt.Errorf("service: reminders disabled: %w", apperr.ErrNotFound)
	}
	return s.deps.Reminder.Status(ctx, s.opts.CredentialChanged)
}
