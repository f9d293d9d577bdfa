// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes intake tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/reminder"
	"github.com/starford/wigen/internal/scanner"
	"github.com/starford/wigen/internal/service"
)

const formatURI = "wigen://intake-format"

// Runner is the subset of service.Service the tools call.
type Runner interface {
	Run(ctx context.Context) (*service.RunResult, error)
	Cursor(ctx context.Context) (service.CursorInfo, error)
	Preview(raw []byte) scanner.Preview
	ReminderStatus(ctx context.Context) (reminder.Decision, error)
}

// Server wraps the MCP server with intake tools.
type Server struct {
	mcp *server.MCPServer
	svc Runner
}

// New creates a new MCP server with all intake tools registered.
func New(svc Runner, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"wigen",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("run_intake",
		mcp.WithDescription("Scan the intake mailbox once, create parent/child work items for every "+
			"TASK message and link them. Also sends the credential reminder when due. "+
			"Returns the run report as JSON."),
	), s.runIntake)

	s.mcp.AddTool(mcp.NewTool("preview_intake",
		mcp.WithDescription("Extract fields from a raw RFC 5322 message and show the work item "+
			"payloads that would be created. Nothing is written. See the "+formatURI+" resource."),
		mcp.WithString("message", mcp.Required(), mcp.Description("Raw message including headers")),
	), s.previewIntake)

	s.mcp.AddTool(mcp.NewTool("get_cursor",
		mcp.WithDescription("Show the last matched work item ID and where the next link scan starts."),
	), s.getCursor)

	s.mcp.AddTool(mcp.NewTool("reminder_status",
		mcp.WithDescription("Show whether the credential renewal reminder is due, without sending it."),
	), s.reminderStatus)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Intake Email Format",
			mcp.WithResourceDescription("Subject and body layout of intake request emails."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) runIntake(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.Run(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrRunInProgress) {
			return mcp.NewToolResultError("a run is already in progress"), nil
		}
		if res == nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		r := jsonResult(res)
		r.IsError = true
		return r, nil
	}
	return jsonResult(res), nil
}

func (s *Server) previewIntake(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Preview([]byte(msg))), nil
}

func (s *Server) getCursor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cur, err := s.svc.Cursor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cur), nil
}

func (s *Server) reminderStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, err := s.svc.ReminderStatus(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultText("reminders are disabled"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     IntakeFormatContract,
		},
	}, nil
}
