// Package mailbox provides the mail backends the intake scanner reads from.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/wigen/internal/scanner"
)

// Backends.
const (
	BackendIMAP  = "imap"
	BackendSpool = "spool"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string
	Host     string
	Port     int
	User     string
	Password string
	Mailbox  string
	// PlainText disables TLS on the IMAP connection.
	PlainText bool
	Timeout   time.Duration
	SpoolDir  string
}

// Open connects to the configured backend. The caller closes the mailbox.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (scanner.Mailbox, error) {
	switch cfg.Backend {
	case BackendIMAP:
		m, err := DialIMAP(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	case BackendSpool:
		s, err := NewSpool(cfg.SpoolDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("mailbox: unknown backend %q", cfg.Backend)
	}
}
