package api

import (
	"context"

	"github.com/starford/wigen/internal/reminder"
	"github.com/starford/wigen/internal/scanner"
	"github.com/starford/wigen/internal/service"
)

// Runner is the subset of service.Service the API needs.
type Runner interface {
	Run(ctx context.Context) (*service.RunResult, error)
	LastRun() (*service.RunResult, error)
	Cursor(ctx context.Context) (service.CursorInfo, error)
	Preview(raw []byte) scanner.Preview
	ReminderStatus(ctx context.Context) (reminder.Decision, error)
}

var _ Runner = (*service.Service)(nil)

// RunResponse wraps a run result. Error is set when the run stopped early or
// the reminder could not be sent.
type RunResponse struct {
	Result *service.RunResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty" example:"service: open mailbox: dial tcp: timeout"`
}

// PreviewRequest is the JSON form of POST /preview. A non-JSON body is read
// as the raw message.
type PreviewRequest struct {
	Raw string `json:"raw" example:"Subject: TASK42 thing\r\nMIME-Version: 1.0\r\n\r\nRequest Name: Thing<br>" validate:"required"`
}
