package internal

// Modes select what Run does.
const (
	// ModeOnce processes one batch, checks the reminder and exits.
	ModeOnce = "once"
	// ModeServe runs the HTTP API with optional scheduled and spool-triggered runs.
	ModeServe = "serve"
	// ModeMCP serves MCP tools over stdio.
	ModeMCP = "mcp"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	mode    string
	version string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMode sets the run mode. The default is ModeServe.
func WithMode(mode string) Option {
	return func(a *application) {
		a.mode = mode
	}
}

// WithVersion sets the version reported by telemetry and the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}
