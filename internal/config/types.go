package config

// Config is the root configuration for browserdeck.
type Config struct {
	Server   ServerConfig   `yaml:"server,omitempty"`
	Browser  BrowserConfig  `yaml:"browser,omitempty"`
	LLM      LLMConfig      `yaml:"llm,omitempty"`
	Tasks    TasksConfig    `yaml:"tasks,omitempty"`
	Sessions SessionsConfig `yaml:"sessions,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// BrowserConfig holds defaults for new browser sessions and the bounds the
// orchestration layer imposes on browser commands.
type BrowserConfig struct {
	Headless *bool `yaml:"headless,omitempty"` // default true

	// AllowedDomains is the default navigation allow-list for the lazily
	// created "default" session. Empty means unrestricted.
	AllowedDomains []string `yaml:"allowedDomains,omitempty"`

	// WaitBetweenActionsMs is the default delay between browser commands
	// on one session.
	WaitBetweenActionsMs int `yaml:"waitBetweenActionsMs,omitempty"`

	// ActionTimeoutSeconds bounds a single browser command. The browser
	// driver has its own internal waits; this is the orchestration-layer
	// ceiling on top of them.
	ActionTimeoutSeconds int `yaml:"actionTimeoutSeconds,omitempty"`

	// MaxSessions caps concurrently active sessions.
	MaxSessions int `yaml:"maxSessions,omitempty"`
}

// LLMConfig configures the model endpoint used for extraction and agent tasks.
type LLMConfig struct {
	APIKey      string   `yaml:"apiKey,omitempty"` // supports ${ENV_VAR}
	BaseURL     string   `yaml:"baseUrl,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
}

// TasksConfig controls agent task execution and retention.
type TasksConfig struct {
	// TimeoutMinutes is the ceiling on one agent task run.
	TimeoutMinutes int `yaml:"timeoutMinutes,omitempty"`

	// MaxSteps is the default step budget when a submission omits one.
	MaxSteps int `yaml:"maxSteps,omitempty"`

	// RetentionMinutes is how long terminal task records stay in memory
	// before the sweeper evicts them. Evicted records remain queryable
	// from the archive store when one is configured.
	RetentionMinutes int `yaml:"retentionMinutes,omitempty"`
}

// SessionsConfig controls session retention.
type SessionsConfig struct {
	// IdleMinutes is how long a session may sit without activity before
	// the sweeper closes it. Zero disables idle eviction.
	IdleMinutes int `yaml:"idleMinutes,omitempty"`
}

// StoreConfig configures the task archive database.
type StoreConfig struct {
	// Path to the SQLite database file. Empty disables the archive;
	// ":memory:" keeps it in-process (used by tests).
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
}
