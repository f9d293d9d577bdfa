// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/wigen/internal/api"
	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/intake"
	"github.com/starford/wigen/internal/kvstore"
	"github.com/starford/wigen/internal/linker"
	"github.com/starford/wigen/internal/mailbox"
	"github.com/starford/wigen/internal/mcpserver"
	"github.com/starford/wigen/internal/models"
	"github.com/starford/wigen/internal/notify"
	"github.com/starford/wigen/internal/reminder"
	"github.com/starford/wigen/internal/scanner"
	"github.com/starford/wigen/internal/service"
	"github.com/starford/wigen/internal/sse"
	"github.com/starford/wigen/internal/telemetry"
	"github.com/starford/wigen/internal/tracking"
)

const serviceName = "wigen"

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{mode: ModeServe, version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// MCP owns stdout.
	var logOut io.Writer = os.Stdout
	if app.mode == ModeMCP {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("mode", app.mode),
		slog.String("mail_backend", cfg.Mail.Backend),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("store_path", cfg.Store.Path),
		slog.String("project", cfg.Tracking.Project),
		slog.Bool("reminder", cfg.Reminder.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, serviceName, app.version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store, closeStore, err := kvstore.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeStore()

	var broker *sse.Broker
	var events service.Publisher
	if app.mode == ModeServe {
		broker = sse.NewBroker(2 * time.Second)
		defer broker.Close()
		events = broker
	}

	svc, err := buildService(cfg, store, events, logger)
	if err != nil {
		return err
	}

	switch app.mode {
	case ModeOnce:
		return runOnce(ctx, svc, logger)
	case ModeMCP:
		logger.Info("MCP server starting on stdio")
		return mcpserver.New(svc, app.version).ServeStdio()
	case ModeServe:
		return serve(ctx, cfg, svc, broker, logger)
	default:
		return fmt.Errorf("unknown mode %q", app.mode)
	}
}

// buildService wires the collaborators of one intake service.
func buildService(cfg *Config, store kvstore.Store, events service.Publisher, logger *slog.Logger) (*service.Service, error) {
	tracker, err := tracking.New(tracking.Config{
		OrganizationURL: cfg.Tracking.OrganizationURL,
		Token:           cfg.Tracking.Token,
		TaskField:       cfg.Tracking.TaskField(),
		MaxRetryElapsed: cfg.Tracking.MaxRetryElapsed,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracking client: %w", err)
	}

	l, err := linker.New(tracker, linker.StoreCheckpointer{Store: store, Key: cfg.Store.CursorKey}, linker.Options{
		ParentType: cfg.Tracking.ParentType,
		ChildType:  cfg.Tracking.ChildType,
		Comment:    cfg.Tracking.LinkComment,
		Bound:      cfg.Tracking.Bound(),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init linker: %w", err)
	}

	deps := service.Deps{
		OpenMailbox: func(ctx context.Context) (scanner.Mailbox, error) {
			return mailbox.Open(ctx, cfg.Mail.MailboxConfig(), logger)
		},
		Tracker:   tracker,
		Store:     store,
		Linker:    l,
		Extractor: intake.NewExtractor(nil),
		Builder:   cfg.Tracking.Builder(),
		Events:    events,
	}
	opts := service.Options{Pipeline: cfg.PipelineConfig(), Logger: logger}

	if cfg.Reminder.Enabled {
		changed, err := cfg.Reminder.Changed(time.Local)
		if err != nil {
			return nil, fmt.Errorf("parse credential date: %w", err)
		}
		notifier := notify.NewSMTP(notify.Config{
			Host:       cfg.Reminder.SMTPHost,
			Port:       cfg.Reminder.SMTPPort,
			User:       cfg.Reminder.SMTPUser,
			Password:   cfg.Reminder.SMTPPassword,
			AllowPlain: cfg.Reminder.AllowPlain,
		}, logger)
		deps.Reminder = reminder.NewScheduler(store, notifier, reminder.Options{
			Key:     cfg.Store.ReminderKey,
			Policy:  cfg.Reminder.Policy(),
			Message: models.Email{From: cfg.Reminder.Sender, To: cfg.Reminder.Recipient},
			Logger:  logger,
		})
		opts.CredentialChanged = changed
	}

	svc, err := service.New(deps, opts)
	if err != nil {
		return nil, fmt.Errorf("init service: %w", err)
	}
	return svc, nil
}

func runOnce(ctx context.Context, svc *service.Service, logger *slog.Logger) error {
	res, err := svc.Run(ctx)
	if res != nil {
		logger.Info("Run finished",
			slog.String("run_id", res.Report.RunID),
			slog.Int("candidates", res.Report.Candidates),
			slog.Int("linked", res.Summary.Linked),
			slog.Int("skipped", res.Summary.Skipped),
			slog.Int("orphaned", res.Summary.Orphaned),
			slog.Bool("reminder_sent", res.ReminderSent))
		logOrphans(logger, res.Report)
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// logOrphans reports archived messages whose items need linking by hand.
func logOrphans(logger *slog.Logger, rep scanner.Report) {
	for _, o := range rep.Orphaned() {
		logger.Warn("Message archived without a link",
			slog.String("message_id", o.MessageID),
			slog.String("task_tag", o.TaskTag),
			slog.Int("parent_id", o.ParentID),
			slog.Int("child_id", o.ChildID),
			slog.String("stage", o.Stage),
			slog.String("error", o.Error))
	}
}

func serve(ctx context.Context, cfg *Config, svc *service.Service, broker *sse.Broker, logger *slog.Logger) error {
	apiRouter := api.NewRouter(svc, cfg.App.Auth.AuthEnabled(), cfg.App.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := svc.Cursor(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)
	gCtx, stop := context.WithCancel(gCtx)
	defer stop()

	trigger := make(chan string, 1)
	request := func(reason string) {
		select {
		case trigger <- reason:
		default:
		}
	}

	// Runs triggered by the ticker and the spool watcher.
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case reason := <-trigger:
				logger.Info("Scheduled run starting", slog.String("reason", reason))
				if _, err := svc.Run(gCtx); err != nil && !errors.Is(err, apperr.ErrRunInProgress) {
					logger.Error("Scheduled run failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	if cfg.Schedule.Interval > 0 {
		g.Go(func() error {
			request("startup")
			ticker := time.NewTicker(cfg.Schedule.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					request("interval")
				}
			}
		})
	}

	if cfg.Schedule.WatchSpool {
		if err := os.MkdirAll(cfg.Mail.SpoolDir, 0o755); err != nil {
			return fmt.Errorf("create spool dir: %w", err)
		}
		g.Go(func() error {
			return mailbox.Watch(gCtx, cfg.Mail.SpoolDir, mailbox.DefaultDebounce, logger, func() {
				request("spool")
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		stop()

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
