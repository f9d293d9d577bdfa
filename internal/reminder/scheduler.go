// Package reminder decides when a credential-expiry reminder is sent and
// sends it.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/kvstore"
	"github.com/starford/wigen/internal/models"
	"github.com/starford/wigen/internal/telemetry"
)

// DefaultKey is the store key holding the last reminder date.
const DefaultKey = "TokenEmailSendDate.txt"

// Default message text.
const (
	DefaultSubject = "VSTS Account Token Change Alert!"
	DefaultBody    = "The Login Token for the Visual Studio Team Services (VSTS) Work Item Generator will be expiring soon. " +
		"It is PERTINENT that the token be regenerated and updated in the work item generator configuration.\n\n" +
		" Settings requiring an update:\n\n" +
		" - tracking.token : contains the VSTS account token \n" +
		" - reminder.credential_changed : contains the date on which the VSTS account token was updated\n\n" +
		"See the work item generator documentation for instructions on how to perform this update."
)

// Notifier delivers a reminder email.
type Notifier interface {
	Send(ctx context.Context, msg models.Email) error
}

// Options configures a Scheduler.
type Options struct {
	Key     string
	Policy  Policy
	Message models.Email
	Now     func() time.Time
	Logger  *slog.Logger
}

// Scheduler sends at most one reminder per resend window.
type Scheduler struct {
	store    kvstore.Store
	notifier Notifier
	opts     Options
	logger   *slog.Logger
}

// NewScheduler returns a Scheduler. Zero option fields take defaults.
func NewScheduler(store kvstore.Store, notifier Notifier, opts Options) *Scheduler {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Message.Subject == "" {
		opts.Message.Subject = DefaultSubject
	}
	if opts.Message.Body == "" {
		opts.Message.Body = DefaultBody
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: store, notifier: notifier, opts: opts, logger: logger}
}

// Status evaluates the policy without sending anything.
func (s *Scheduler) Status(ctx context.Context, changed time.Time) (Decision, error) {
	return s.decide(ctx, s.opts.Now(), changed)
}

func (s *Scheduler) decide(ctx context.Context, now, changed time.Time) (Decision, error) {
	last, ok, err := s.lastSent(ctx, now.Location())
	if err != nil {
		return Decision{}, err
	}
	return Decide(now, changed, last, ok, s.opts.Policy), nil
}

// MaybeNotify sends the reminder when it is due and the resend window has
// passed. The send date is stored only after a successful send.
func (s *Scheduler) MaybeNotify(ctx context.Context, changed time.Time) (bool, error) {
	now := s.opts.Now()
	d, err := s.decide(ctx, now, changed)
	if err != nil {
		return false, err
	}
	s.logger.Info("reminder: credential age",
		slog.Int("days_since_change", d.DaysSinceChange),
		slog.Int("days_since_last", d.DaysSinceLast))
	if !d.Send {
		return false, nil
	}

	if err := s.notifier.Send(ctx, s.opts.Message); err != nil {
		return false, fmt.Errorf("reminder: send: %w", err)
	}
	telemetry.Instruments().RemindersSent.Add(ctx, 1)
	if err := s.store.Put(ctx, s.opts.Key, FormatDate(now)); err != nil {
		return true, fmt.Errorf("reminder: record send date: %w", err)
	}
	s.logger.Info("reminder: sent", slog.String("to", s.opts.Message.To))
	return true, nil
}

func (s *Scheduler) lastSent(ctx context.Context, loc *time.Location) (time.Time, bool, error) {
	raw, err := s.store.Get(ctx, s.opts.Key)
	if errors.Is(err, apperr.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reminder: read last sent: %w", err)
	}
	t, err := ParseDate(raw, loc)
	if err != nil {
		s.logger.Warn("reminder: ignoring unreadable last sent date",
			slog.String("value", raw), slog.String("error", err.Error()))
		return time.Time{}, false, nil
	}
	return t, true, nil
}
