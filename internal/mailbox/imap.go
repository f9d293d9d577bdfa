package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/models"
)

// IMAP is a mailbox on an IMAP server addressed by message UID.
type IMAP struct {
	c      *client.Client
	logger *slog.Logger
}

// DialIMAP logs in and selects cfg.Mailbox.
func DialIMAP(ctx context.Context, cfg Config, logger *slog.Logger) (*IMAP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	port := cfg.Port
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	var (
		c   *client.Client
		err error
	)
	if cfg.PlainText {
		c, err = client.Dial(addr)
	} else {
		c, err = client.DialTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("mailbox: dial %s: %w", addr, err)
	}
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	if err := c.Login(cfg.User, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("mailbox: login: %w", err)
	}
	name := cfg.Mailbox
	if name == "" {
		name = "INBOX"
	}
	if _, err := c.Select(name, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("mailbox: select %s: %w", name, err)
	}
	logger.Info("mailbox: connected", slog.String("addr", addr), slog.String("mailbox", name))
	return &IMAP{c: c, logger: logger}, nil
}

// Search returns the UIDs of messages from c.From sent on c.On's calendar day.
func (m *IMAP) Search(ctx context.Context, c models.SearchCriteria) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	y, mo, d := c.On.Date()
	day := time.Date(y, mo, d, 0, 0, 0, 0, c.On.Location())

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("From", c.From)
	criteria.SentSince = day
	criteria.SentBefore = day.AddDate(0, 0, 1)

	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("mailbox: search: %w", err)
	}
	out := make([]string, 0, len(uids))
	for _, uid := range uids {
		out = append(out, strconv.FormatUint(uint64(uid), 10))
	}
	return out, nil
}

// Fetch returns the full RFC 822 message. The \Seen flag is left alone.
func (m *IMAP) Fetch(ctx context.Context, id string) ([]byte, error) {
	set, err := uidSet(ctx, id)
	if err != nil {
		return nil, err
	}
	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(set, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var raw []byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		if raw, err = io.ReadAll(body); err != nil {
			return nil, fmt.Errorf("mailbox: read %s: %w", id, err)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("mailbox: fetch %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("mailbox: message %s: %w", id, apperr.ErrNotFound)
	}
	return raw, nil
}

// Copy copies the message into dest.
func (m *IMAP) Copy(ctx context.Context, id, dest string) error {
	set, err := uidSet(ctx, id)
	if err != nil {
		return err
	}
	if err := m.c.UidCopy(set, dest); err != nil {
		return fmt.Errorf("mailbox: copy %s to %s: %w", id, dest, err)
	}
	return nil
}

// MarkDeleted sets the \Deleted flag.
func (m *IMAP) MarkDeleted(ctx context.Context, id string) error {
	set, err := uidSet(ctx, id)
	if err != nil {
		return err
	}
	flags := []interface{}{imap.DeletedFlag}
	if err := m.c.UidStore(set, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return fmt.Errorf("mailbox: flag %s: %w", id, err)
	}
	return nil
}

// Purge expunges flagged messages.
func (m *IMAP) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.c.Expunge(nil); err != nil {
		return fmt.Errorf("mailbox: expunge: %w", err)
	}
	return nil
}

// Close closes the selected mailbox and logs out.
func (m *IMAP) Close() error {
	err := errors.Join(m.c.Close(), m.c.Logout())
	if err != nil {
		return fmt.Errorf("mailbox: close: %w", err)
	}
	m.logger.Info("mailbox: disconnected")
	return nil
}

func uidSet(ctx context.Context, id string) (*imap.SeqSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return nil, fmt.Errorf("mailbox: invalid uid %q", id)
	}
	set := new(imap.SeqSet)
	set.AddNum(uint32(uid))
	return set, nil
}
