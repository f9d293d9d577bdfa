package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/wigen/internal/kvstore"
	"github.com/starford/wigen/internal/linker"
	"github.com/starford/wigen/internal/mailbox"
	"github.com/starford/wigen/internal/reminder"
	"github.com/starford/wigen/internal/scanner"
	"github.com/starford/wigen/internal/telemetry"
	"github.com/starford/wigen/internal/workitem"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

var addressRule = validation.Match(regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)).Error("must be an email address")

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Mail      MailConfig        `yaml:"mail"`
	Tracking  TrackingConfig    `yaml:"tracking"`
	Store     StoreConfig       `yaml:"store"`
	Reminder  ReminderConfig    `yaml:"reminder"`
	Schedule  ScheduleConfig    `yaml:"schedule"`
	Telemetry telemetry.Config  `yaml:"telemetry"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Mail.Validate(); err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	if err := c.Tracking.Validate(); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Reminder.Validate(); err != nil {
		return fmt.Errorf("reminder: %w", err)
	}
	if c.Schedule.WatchSpool && c.Mail.Backend != mailbox.BackendSpool {
		return errors.New("schedule: watch_spool requires the spool mail backend")
	}
	return c.Schedule.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	Auth     AuthConfig `yaml:"auth"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// MailConfig holds the intake mailbox configuration.
type MailConfig struct {
	// Backend is "imap" or "spool".
	Backend  string `yaml:"backend"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Mailbox is the folder scanned for intake messages.
	Mailbox        string        `yaml:"mailbox"`
	ArchiveMailbox string        `yaml:"archive_mailbox"`
	PlainText      bool          `yaml:"plain_text"`
	Timeout        time.Duration `yaml:"timeout"`
	SpoolDir       string        `yaml:"spool_dir"`
	SenderFilter   string        `yaml:"sender_filter"`
	LookbackDays   int           `yaml:"lookback_days"`
}

// Validate validates the mail configuration.
func (c *MailConfig) Validate() error {
	imap := c.Backend == mailbox.BackendIMAP
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(mailbox.BackendIMAP, mailbox.BackendSpool)),
		validation.Field(&c.Host, validation.When(imap, validation.Required)),
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.User, validation.When(imap, validation.Required)),
		validation.Field(&c.SpoolDir, validation.When(!imap, validation.Required)),
		validation.Field(&c.ArchiveMailbox, validation.Required),
		validation.Field(&c.SenderFilter, validation.Required),
		validation.Field(&c.LookbackDays, validation.Min(0), validation.Max(30)),
	)
}

// MailboxConfig returns the mailbox adapter configuration.
func (c *MailConfig) MailboxConfig() mailbox.Config {
	return mailbox.Config{
		Backend:   c.Backend,
		Host:      c.Host,
		Port:      c.Port,
		User:      c.User,
		Password:  c.Password,
		Mailbox:   c.Mailbox,
		PlainText: c.PlainText,
		Timeout:   c.Timeout,
		SpoolDir:  c.SpoolDir,
	}
}

// TrackingConfig holds the work tracking service configuration.
type TrackingConfig struct {
	OrganizationURL string `yaml:"organization_url"`
	Project         string `yaml:"project"`
	Token           string `yaml:"token"`
	AreaPath        string `yaml:"area_path"`
	ParentType      string `yaml:"parent_type"`
	ChildType       string `yaml:"child_type"`
	// Fields starts from the default map; YAML overrides single paths.
	Fields      workitem.FieldMap `yaml:"fields"`
	LinkComment string            `yaml:"link_comment"`
	// StartID is where the first link scan begins when no cursor is stored.
	// Zero starts at the lower of the two newly created IDs.
	StartID         int           `yaml:"start_id"`
	MaxIDDelta      int           `yaml:"max_id_delta"`
	ScanBudget      time.Duration `yaml:"scan_budget"`
	MaxRetryElapsed time.Duration `yaml:"max_retry_elapsed"`
}

// Validate validates the tracking configuration.
func (c *TrackingConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.OrganizationURL, validation.Required, validation.Match(regexp.MustCompile(`^https?://`))),
		validation.Field(&c.Project, validation.Required),
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.AreaPath, validation.Required),
		validation.Field(&c.ParentType, validation.Required),
		validation.Field(&c.ChildType, validation.Required),
		validation.Field(&c.StartID, validation.Min(0)),
		validation.Field(&c.MaxIDDelta, validation.Min(0)),
		validation.Field(&c.ScanBudget, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if err := c.validateFields(); err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	if c.ParentType == c.ChildType {
		return errors.New("parent_type and child_type must differ")
	}
	if c.MaxIDDelta == 0 && c.ScanBudget == 0 {
		return errors.New("one of max_id_delta or scan_budget is required")
	}
	return nil
}

var fieldPath = validation.Match(regexp.MustCompile(`^/fields/\S+$`)).Error("must look like /fields/<reference name>")

func (c *TrackingConfig) validateFields() error {
	f := &c.Fields
	return validation.ValidateStruct(f,
		validation.Field(&f.Title, validation.Required, fieldPath),
		validation.Field(&f.Description, validation.Required, fieldPath),
		validation.Field(&f.TaskTag, validation.Required, fieldPath),
		validation.Field(&f.AreaPath, validation.Required, fieldPath),
		validation.Field(&f.GoverningLink, validation.Required, fieldPath),
		validation.Field(&f.ExternalRef, validation.Required, fieldPath),
	)
}

// TaskField returns the reference name of the task tag field the builder
// writes, e.g. GTSKanban.TASK. The linker reads the same field.
func (c *TrackingConfig) TaskField() string {
	return strings.TrimPrefix(c.Fields.TaskTag, "/fields/")
}

// Builder returns the payload builder for the configured types and fields.
func (c *TrackingConfig) Builder() *workitem.Builder {
	b := workitem.NewBuilder()
	b.ParentType = c.ParentType
	b.ChildType = c.ChildType
	b.AreaPath = c.AreaPath
	b.Fields = c.Fields
	return b
}

// Bound returns the link scan bound.
func (c *TrackingConfig) Bound() linker.Bound {
	return linker.Bound{MaxIDDelta: c.MaxIDDelta, Budget: c.ScanBudget}
}

// StoreConfig holds the key/value store configuration.
type StoreConfig struct {
	// Backend is "file" or "sqlite".
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	CursorKey   string `yaml:"cursor_key"`
	ReminderKey string `yaml:"reminder_key"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(kvstore.BackendFile, kvstore.BackendSQLite)),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.CursorKey, validation.Required),
		validation.Field(&c.ReminderKey, validation.Required),
	)
}

// ReminderConfig holds the credential renewal reminder configuration.
type ReminderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	// AllowPlain permits sending without STARTTLS, for local relays only.
	AllowPlain bool   `yaml:"allow_plain"`
	Sender     string `yaml:"sender"`
	Recipient  string `yaml:"recipient"`
	// CredentialChanged uses the "Year: Y Month: M Day: D" form.
	CredentialChanged string `yaml:"credential_changed"`
	ThresholdDays     int    `yaml:"threshold_days"`
	ResendAfterDays   int    `yaml:"resend_after_days"`
}

// labelDate validates the "Year: Y Month: M Day: D" form.
var labelDate = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := reminder.ParseDate(s, time.UTC); err != nil {
		return errors.New(`must look like "Year: 2024 Month: 1 Day: 31"`)
	}
	return nil
})

// Validate validates the reminder configuration. Nothing is checked when
// reminders are disabled.
func (c *ReminderConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.SMTPHost, validation.Required),
		validation.Field(&c.SMTPPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Sender, validation.Required, addressRule),
		validation.Field(&c.Recipient, validation.Required, addressRule),
		validation.Field(&c.CredentialChanged, validation.Required, labelDate),
		validation.Field(&c.ThresholdDays, validation.Required, validation.Min(1)),
		validation.Field(&c.ResendAfterDays, validation.Min(0)),
	)
}

// Changed returns the parsed credential change date in loc.
func (c *ReminderConfig) Changed(loc *time.Location) (time.Time, error) {
	return reminder.ParseDate(c.CredentialChanged, loc)
}

// Policy returns the reminder policy.
func (c *ReminderConfig) Policy() reminder.Policy {
	return reminder.Policy{ThresholdDays: c.ThresholdDays, ResendAfterDays: c.ResendAfterDays}
}

// ScheduleConfig controls automatic runs in serve mode.
type ScheduleConfig struct {
	// Interval between runs. Zero disables the ticker.
	Interval time.Duration `yaml:"interval"`
	// WatchSpool triggers a run when messages land in the spool directory.
	WatchSpool bool `yaml:"watch_spool"`
}

// Validate validates the schedule configuration.
func (c *ScheduleConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.When(c.Interval != 0, validation.Min(time.Minute))),
	)
}

// PipelineConfig returns the scanner configuration.
func (c *Config) PipelineConfig() scanner.Config {
	return scanner.Config{
		Sender:       c.Mail.SenderFilter,
		LookbackDays: c.Mail.LookbackDays,
		Archive:      c.Mail.ArchiveMailbox,
		Project:      c.Tracking.Project,
		CursorKey:    c.Store.CursorKey,
		StartID:      c.Tracking.StartID,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	policy := reminder.DefaultPolicy()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			Auth: AuthConfig{
				Mode: AuthModeDisabled,
			},
		},
		Mail: MailConfig{
			Backend:        mailbox.BackendIMAP,
			Port:           993,
			Mailbox:        "INBOX",
			ArchiveMailbox: scanner.DefaultArchive,
			Timeout:        30 * time.Second,
			SpoolDir:       "./spool",
			LookbackDays:   3,
		},
		Tracking: TrackingConfig{
			Project:         "Architecture",
			AreaPath:        workitem.DefaultAreaPath,
			ParentType:      workitem.DefaultParentType,
			ChildType:       workitem.DefaultChildType,
			Fields:          workitem.DefaultFieldMap(),
			LinkComment:     linker.DefaultLinkComment,
			MaxIDDelta:      500,
			MaxRetryElapsed: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:     kvstore.BackendFile,
			Path:        "./data",
			CursorKey:   "workItemIDNumber.txt",
			ReminderKey: reminder.DefaultKey,
		},
		Reminder: ReminderConfig{
			SMTPPort:        587,
			ThresholdDays:   policy.ThresholdDays,
			ResendAfterDays: policy.ResendAfterDays,
		},
	}
}
