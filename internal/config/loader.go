package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns the config file location: $BROWSERDECK_CONFIG when
// set, otherwise ~/.browserdeck/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("BROWSERDECK_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "browserdeck.yaml"
	}
	return filepath.Join(home, ".browserdeck", "config.yaml")
}

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so API keys can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
}

// Load reads the config file, applies defaults and environment overrides,
// and returns a merged Config. A missing file produces defaults only.
func Load(path string) (Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "loopback"
	}
	if cfg.Browser.Headless == nil {
		headless := true
		cfg.Browser.Headless = &headless
	}
	if cfg.Browser.WaitBetweenActionsMs == 0 {
		cfg.Browser.WaitBetweenActionsMs = 500
	}
	if cfg.Browser.ActionTimeoutSeconds == 0 {
		cfg.Browser.ActionTimeoutSeconds = 30
	}
	if cfg.Browser.MaxSessions == 0 {
		cfg.Browser.MaxSessions = 10
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.Tasks.TimeoutMinutes == 0 {
		cfg.Tasks.TimeoutMinutes = 10
	}
	if cfg.Tasks.MaxSteps == 0 {
		cfg.Tasks.MaxSteps = 100
	}
	if cfg.Tasks.RetentionMinutes == 0 {
		cfg.Tasks.RetentionMinutes = 60
	}
	if cfg.Sessions.IdleMinutes == 0 {
		cfg.Sessions.IdleMinutes = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = "pretty"
	}
}

// applyEnvOverrides lets a few well-known environment variables override
// file values, so the server can run without a config file at all.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("BROWSERDECK_DB"); v != "" && cfg.Store.Path == "" {
		cfg.Store.Path = v
	}
}
