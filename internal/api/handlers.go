package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/starford/wigen/internal/apperr"
)

const maxMessageBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc Runner
}

// NewHandler creates a new Handler.
func NewHandler(svc Runner) *Handler {
	return &Handler{svc: svc}
}

// StartRun handles POST /api/runs. The batch runs synchronously.
//
//	@Summary		Run one intake batch and the reminder check
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	RunResponse
//	@Failure		409	{object}	errResponse
//	@Failure		500	{object}	RunResponse
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Run(r.Context())
	switch {
	case errors.Is(err, apperr.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, errorBody("run in progress"))
	case err != nil:
		slog.Error("api: run failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, RunResponse{Result: res, Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, RunResponse{Result: res})
	}
}

// LastRun handles GET /api/runs/last.
//
//	@Summary		Result of the most recent run
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	service.RunResult
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/last [get]
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.LastRun()
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("no run yet"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Cursor handles GET /api/cursor.
//
//	@Summary		Linker cursor
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	service.CursorInfo
//	@Security		BearerAuth
//	@Router			/cursor [get]
func (h *Handler) Cursor(w http.ResponseWriter, r *http.Request) {
	cur, err := h.svc.Cursor(r.Context())
	if err != nil {
		slog.Error("api: read cursor failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// Preview handles POST /api/preview.
//
//	@Summary		Extract a raw message without creating work items
//	@Tags			preview
//	@Accept			json,plain
//	@Produce		json
//	@Param			body	body		PreviewRequest	true	"Raw message"
//	@Success		200		{object}	scanner.Preview
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview [post]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("cannot read body"))
		return
	}

	raw := body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		var req PreviewRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
			return
		}
		raw = []byte(req.Raw)
	}
	if len(raw) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("message is required"))
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Preview(raw))
}

// Reminder handles GET /api/reminder.
//
//	@Summary		Credential reminder decision
//	@Tags			reminder
//	@Produce		json
//	@Success		200	{object}	reminder.Decision
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reminder [get]
func (h *Handler) Reminder(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.ReminderStatus(r.Context())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("reminders disabled"))
			return
		}
		slog.Error("api: reminder status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}
