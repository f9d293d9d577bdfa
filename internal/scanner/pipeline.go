package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/intake"
	"github.com/starford/wigen/internal/kvstore"
	"github.com/starford/wigen/internal/linker"
	"github.com/starford/wigen/internal/models"
	"github.com/starford/wigen/internal/telemetry"
	"github.com/starford/wigen/internal/workitem"
)

// DefaultArchive is the mailbox folder processed intake messages move to.
const DefaultArchive = "Archive/ServiceCafe"

// Config holds the per-run settings of a Pipeline.
type Config struct {
	Sender       string
	LookbackDays int
	Archive      string
	Project      string
	CursorKey    string
	// StartID seeds the linker when no cursor is stored. Zero means the ID of
	// the parent item just created.
	StartID int
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Mailbox   Mailbox
	Tracker   Tracker
	Store     kvstore.Store
	Linker    *linker.Linker
	Extractor *intake.Extractor
	Builder   *workitem.Builder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock sets the time source used for searches and report timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithObserver registers fn to receive every outcome as it is recorded.
func WithObserver(fn func(Outcome)) Option {
	return func(p *Pipeline) { p.observe = fn }
}

// Pipeline processes one batch of candidate messages, strictly in order.
type Pipeline struct {
	deps    Deps
	cfg     Config
	scanner *Scanner
	logger  *slog.Logger
	now     func() time.Time
	observe func(Outcome)
}

// NewPipeline validates deps and returns a Pipeline.
func NewPipeline(deps Deps, cfg Config, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Mailbox == nil:
		return nil, errors.New("scanner: mailbox is required")
	case deps.Tracker == nil:
		return nil, errors.New("scanner: tracker is required")
	case deps.Store == nil:
		return nil, errors.New("scanner: store is required")
	case deps.Linker == nil:
		return nil, errors.New("scanner: linker is required")
	}
	if deps.Extractor == nil {
		deps.Extractor = intake.NewExtractor(nil)
	}
	if deps.Builder == nil {
		deps.Builder = workitem.NewBuilder()
	}
	if cfg.Archive == "" {
		cfg.Archive = DefaultArchive
	}
	if cfg.CursorKey == "" {
		return nil, errors.New("scanner: cursor key is required")
	}

	p := &Pipeline{
		deps:    deps,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		observe: func(Outcome) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.scanner = NewScanner(deps.Mailbox, p.now)
	return p, nil
}

// Run processes every candidate message. Mailbox failures stop the run with
// an error. A message that fails after it was archived is reported as
// orphaned; the run continues when the linker exhausted its bound and stops
// for any other failure, leaving unprocessed messages in the mailbox.
// Cancellation is observed between messages and before an archive.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.NewString(), StartedAt: p.now()}
	logger := p.logger.With(slog.String("run_id", rep.RunID))

	finish := func(err error) (Report, error) {
		rep.FinishedAt = p.now()
		if err != nil {
			rep.Error = err.Error()
		}
		return rep, err
	}

	ids, err := p.scanner.Candidates(ctx, p.cfg.Sender, p.cfg.LookbackDays)
	if err != nil {
		return finish(err)
	}
	rep.Candidates = len(ids)
	logger.Info("scanner: candidates found", slog.Int("count", len(ids)))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return finish(fmt.Errorf("scanner: run cancelled: %w", err))
		}
		out, err := p.process(ctx, logger, id)
		if out.Status != "" {
			rep.Outcomes = append(rep.Outcomes, out)
			p.observe(out)
		}
		if err != nil {
			return finish(err)
		}
	}

	s := rep.Summary()
	logger.Info("scanner: run complete",
		slog.Int("linked", s.Linked),
		slog.Int("skipped", s.Skipped),
		slog.Int("orphaned", s.Orphaned))
	return finish(nil)
}

func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, id string) (out Outcome, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "scanner.process_message",
		trace.WithAttributes(attribute.String("message.id", id)))
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(out.Status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	counters := telemetry.Instruments()
	logger = logger.With(slog.String("message_id", id))

	raw, err := p.deps.Mailbox.Fetch(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("scanner: fetch %s: %w", id, err)
	}
	counters.MessagesScanned.Add(ctx, 1)

	subject, body := intake.SplitMessage(raw)
	out = Outcome{MessageID: id, Subject: subject}

	tag, ok := intake.TaskTag(subject)
	if !intake.IsIntakeSubject(subject) || !ok {
		out.Status = StatusSkipped
		logger.Debug("scanner: not an intake request", slog.String("subject", subject))
		return out, nil
	}
	out.TaskTag = tag
	span.SetAttributes(attribute.String("task.tag", tag))

	// Once archiving starts the message is finished regardless of
	// cancellation.
	ctx = context.WithoutCancel(ctx)

	if err := p.archive(ctx, id); err != nil {
		return Outcome{}, err
	}
	counters.MessagesArchived.Add(ctx, 1)
	logger.Info("scanner: archived", slog.String("task", tag), slog.String("archive", p.cfg.Archive))

	rec := p.deps.Extractor.Extract(body, subject)
	parentPayload, childPayload := p.deps.Builder.Build(rec)

	orphan := func(stage string, cause error) (Outcome, error) {
		out.Status = StatusOrphaned
		out.Stage = stage
		out.Error = cause.Error()
		counters.MessagesOrphaned.Add(ctx, 1)
		logger.Warn("scanner: message archived without linked items",
			slog.String("task", tag),
			slog.String("stage", stage),
			slog.String("error", cause.Error()))
		if errors.Is(cause, apperr.ErrScanExhausted) {
			return out, nil
		}
		return out, fmt.Errorf("scanner: message %s: %s: %w", id, stage, cause)
	}

	parent, err := p.deps.Tracker.CreateItem(ctx, p.cfg.Project, parentPayload)
	if err != nil {
		return orphan(StageCreateParent, err)
	}
	counters.ItemsCreated.Add(ctx, 1)
	child, err := p.deps.Tracker.CreateItem(ctx, p.cfg.Project, childPayload)
	if err != nil {
		return orphan(StageCreateChild, err)
	}
	counters.ItemsCreated.Add(ctx, 1)
	logger.Info("scanner: items created",
		slog.String("task", tag),
		slog.Int("parent", parent.ID),
		slog.Int("child", child.ID),
		slog.String("title", rec.Title))

	fallback := p.cfg.StartID
	if fallback <= 0 {
		fallback = min(parent.ID, child.ID)
	}
	start, err := linker.ReadCursor(ctx, p.deps.Store, p.cfg.CursorKey, fallback)
	if err != nil {
		return orphan(StageCursor, err)
	}
	if seeded := p.deps.Linker.StartFor(start, min(parent.ID, child.ID), max(parent.ID, child.ID)); seeded != start {
		logger.Info("scanner: cursor out of reach, seeding scan from new items",
			slog.Int("cursor_start", start),
			slog.Int("start", seeded))
		start = seeded
	}

	res, err := p.deps.Linker.Link(ctx, start, tag)
	if err != nil {
		return orphan(StageLink, err)
	}
	if !res.Existing {
		counters.LinksCreated.Add(ctx, 1)
	}
	out.Status = StatusLinked
	out.ParentID, out.ChildID, out.Existing = res.ParentID, res.ChildID, res.Existing
	return out, nil
}

// archive copies the message to the archive folder, flags it and purges.
func (p *Pipeline) archive(ctx context.Context, id string) error {
	if err := p.deps.Mailbox.Copy(ctx, id, p.cfg.Archive); err != nil {
		return fmt.Errorf("scanner: archive %s: %w", id, err)
	}
	if err := p.deps.Mailbox.MarkDeleted(ctx, id); err != nil {
		return fmt.Errorf("scanner: flag %s: %w", id, err)
	}
	if err := p.deps.Mailbox.Purge(ctx); err != nil {
		return fmt.Errorf("scanner: purge: %w", err)
	}
	return nil
}

// Preview is the dry-run view of one raw message.
type Preview struct {
	Subject string              `json:"subject"`
	Intake  bool                `json:"intake"`
	Record  models.IntakeRecord `json:"record"`
	Parent  models.Payload      `json:"parent"`
	Child   models.Payload      `json:"child"`
}

// BuildPreview extracts and builds payloads for raw without touching any
// collaborator. Nil ex or b fall back to the defaults.
func BuildPreview(ex *intake.Extractor, b *workitem.Builder, raw []byte) Preview {
	if ex == nil {
		ex = intake.NewExtractor(nil)
	}
	if b == nil {
		b = workitem.NewBuilder()
	}
	subject, body := intake.SplitMessage(raw)
	_, hasTag := intake.TaskTag(subject)
	pv := Preview{Subject: subject, Intake: intake.IsIntakeSubject(subject) && hasTag}
	if !pv.Intake {
		return pv
	}
	pv.Record = ex.Extract(body, subject)
	pv.Parent, pv.Child = b.Build(pv.Record)
	return pv
}
