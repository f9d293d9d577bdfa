package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/wigen/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

// validConfig returns defaults plus the fields a deployment must set.
func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Mail.Host = "imap.example.com"
	cfg.Mail.User = "intake@example.com"
	cfg.Mail.SenderFilter = "servicecafe@example.com"
	cfg.Tracking.OrganizationURL = "https://dev.azure.com/contoso"
	cfg.Tracking.Token = "pat"
	return cfg
}

func TestDefaultConfig_NeedsDeploymentFields(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err == nil {
		t.Fatal("defaults alone should not validate")
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := validConfig()
	cfg.App.Auth.Mode = "token"
	cfg.App.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestMailConfig_Backends(t *testing.T) {
	cfg := validConfig()
	cfg.Mail.Host = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Host") {
		t.Errorf("imap without host: err = %v", err)
	}

	cfg = validConfig()
	cfg.Mail.Backend = "spool"
	cfg.Mail.Host = ""
	cfg.Mail.User = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("spool backend should not need imap fields: %v", err)
	}

	cfg.Mail.Backend = "pop3"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestScheduleConfig_WatchSpoolNeedsSpool(t *testing.T) {
	cfg := validConfig()
	cfg.Schedule.WatchSpool = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("watch_spool with imap backend should fail")
	}
	cfg.Mail.Backend = "spool"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("watch_spool with spool backend: %v", err)
	}

	cfg.Schedule.Interval = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("sub-minute interval should fail")
	}
}

func TestTrackingConfig_Bounds(t *testing.T) {
	cfg := validConfig()
	cfg.Tracking.MaxIDDelta = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("unbounded scan should fail")
	}
	cfg.Tracking.ScanBudget = time.Minute
	if err := cfg.Validate(); err != nil {
		t.Fatalf("budget-only bound: %v", err)
	}
	if b := cfg.Tracking.Bound(); b.Budget != time.Minute || b.MaxIDDelta != 0 {
		t.Errorf("bound = %+v", b)
	}

	cfg.Tracking.ChildType = cfg.Tracking.ParentType
	if err := cfg.Validate(); err == nil {
		t.Error("identical parent and child types should fail")
	}
}

func TestTrackingConfig_Builder(t *testing.T) {
	cfg := validConfig()
	cfg.Tracking.ParentType = "Epic"
	cfg.Tracking.AreaPath = `Team\Area`
	b := cfg.Tracking.Builder()
	if b.ParentType != "Epic" || b.AreaPath != `Team\Area` {
		t.Errorf("builder = %+v", b)
	}
	if b.Fields.Title != "/fields/System.Title" {
		t.Errorf("default field map not applied: %+v", b.Fields)
	}
}

func TestTrackingConfig_PartialFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
mail:
  host: imap.example.com
  user: intake@example.com
  sender_filter: cafe@example.com
tracking:
  organization_url: https://dev.azure.com/contoso
  token: pat
  fields:
    task_tag: /fields/Custom.Task
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := cfg.Tracking.Builder().Fields
	if f.TaskTag != "/fields/Custom.Task" {
		t.Errorf("task tag = %q", f.TaskTag)
	}
	if f.Title != "/fields/System.Title" || f.Description != "/fields/System.Description" || f.AreaPath != "/fields/System.AreaPath" {
		t.Errorf("defaults lost: %+v", f)
	}
	if got := cfg.Tracking.TaskField(); got != "Custom.Task" {
		t.Errorf("task field = %q, want Custom.Task", got)
	}
}

func TestTrackingConfig_FieldPaths(t *testing.T) {
	if got := validConfig().Tracking.TaskField(); got != "GTSKanban.TASK" {
		t.Errorf("default task field = %q", got)
	}

	cfg := validConfig()
	cfg.Tracking.Fields.Title = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Title") {
		t.Errorf("empty title path: err = %v", err)
	}

	cfg = validConfig()
	cfg.Tracking.Fields.TaskTag = "GTSKanban.TASK"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "TaskTag") {
		t.Errorf("task tag without /fields/ prefix: err = %v", err)
	}
}

func TestReminderConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Reminder.Enabled = true
	cfg.Reminder.SMTPHost = "smtp.example.com"
	cfg.Reminder.Sender = "bot@example.com"
	cfg.Reminder.Recipient = "ops@example.com"
	cfg.Reminder.CredentialChanged = "Year: 2024 Month: 2 Day: 29"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid reminder config: %v", err)
	}

	changed, err := cfg.Reminder.Changed(time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC); !changed.Equal(want) {
		t.Errorf("changed = %v, want %v", changed, want)
	}

	cfg.Reminder.CredentialChanged = "Year: 2023 Month: 2 Day: 29"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "CredentialChanged") {
		t.Errorf("invalid calendar date: err = %v", err)
	}

	cfg.Reminder.CredentialChanged = "Year: 2024 Month: 2 Day: 29"
	cfg.Reminder.Recipient = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Error("bad recipient should fail")
	}

	cfg.Reminder = ReminderConfig{}
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled reminder should not be validated: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("WIGEN_TEST_TOKEN", "from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
mail:
  backend: spool
  spool_dir: /tmp/spool
  sender_filter: cafe@example.com
  lookback_days: 2
tracking:
  organization_url: https://dev.azure.com/contoso
  token: ${WIGEN_TEST_TOKEN}
  scan_budget: 90s
schedule:
  interval: 15m
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracking.Token != "from-env" {
		t.Errorf("token = %q, want env expansion", cfg.Tracking.Token)
	}
	if cfg.Tracking.ScanBudget != 90*time.Second || cfg.Schedule.Interval != 15*time.Minute {
		t.Errorf("durations = %v, %v", cfg.Tracking.ScanBudget, cfg.Schedule.Interval)
	}
	if cfg.Tracking.MaxIDDelta != 500 || cfg.Store.CursorKey != "workItemIDNumber.txt" {
		t.Errorf("defaults lost: %+v %+v", cfg.Tracking, cfg.Store)
	}
	if p := cfg.PipelineConfig(); p.Sender != "cafe@example.com" || p.LookbackDays != 2 || p.Project != "Architecture" {
		t.Errorf("pipeline config = %+v", p)
	}
}
