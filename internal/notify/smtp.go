// Package notify sends reminder emails over SMTP.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/starford/wigen/internal/models"
)

// DefaultPort is the submission port.
const DefaultPort = 587

// Config configures an SMTP notifier.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	// AllowPlain permits sending when the server does not offer STARTTLS.
	AllowPlain bool
	Timeout    time.Duration
}

// SMTP delivers messages through one submission server.
type SMTP struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewSMTP returns an SMTP notifier.
func NewSMTP(cfg Config, logger *slog.Logger) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTP{cfg: cfg, now: time.Now, logger: logger}
}

// Send delivers msg: EHLO, STARTTLS, AUTH PLAIN, then the message.
func (s *SMTP) Send(ctx context.Context, msg models.Email) error {
	if msg.From == "" || msg.To == "" {
		return errors.New("notify: sender and recipient are required")
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("notify: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("notify: greeting: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("notify: starttls: %w", err)
		}
	} else if !s.cfg.AllowPlain {
		return fmt.Errorf("notify: %s does not offer STARTTLS", addr)
	}

	if s.cfg.User != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("notify: auth: %w", err)
		}
	}
	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("notify: mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("notify: rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("notify: data: %w", err)
	}
	if _, err := w.Write(Compose(msg, s.now())); err != nil {
		return fmt.Errorf("notify: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: end data: %w", err)
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("notify: quit: %w", err)
	}
	s.logger.Info("notify: sent", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

// Compose renders msg as a plain text RFC 5322 message with CRLF line endings.
func Compose(msg models.Email, date time.Time) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", msg.From)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.Write(bytes.ReplaceAll(bytes.ReplaceAll([]byte(msg.Body), []byte("\r\n"), []byte("\n")), []byte("\n"), []byte("\r\n")))
	b.WriteString("\r\n")
	return b.Bytes()
}
