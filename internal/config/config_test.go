package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "loopback", cfg.Server.Bind)
	require.NotNil(t, cfg.Browser.Headless)
	assert.True(t, *cfg.Browser.Headless)
	assert.Equal(t, 500, cfg.Browser.WaitBetweenActionsMs)
	assert.Equal(t, 30, cfg.Browser.ActionTimeoutSeconds)
	assert.Equal(t, 10, cfg.Browser.MaxSessions)
	assert.Equal(t, 100, cfg.Tasks.MaxSteps)
	assert.Equal(t, 60, cfg.Tasks.RetentionMinutes)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadParsesAndKeepsExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9090
  bind: lan
browser:
  headless: false
  maxSessions: 3
  allowedDomains:
    - example.com
llm:
  model: gpt-4o-mini
tasks:
  maxSteps: 25
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "lan", cfg.Server.Bind)
	require.NotNil(t, cfg.Browser.Headless)
	assert.False(t, *cfg.Browser.Headless)
	assert.Equal(t, 3, cfg.Browser.MaxSessions)
	assert.Equal(t, []string{"example.com"}, cfg.Browser.AllowedDomains)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 25, cfg.Tasks.MaxSteps)
	// Untouched fields still get defaults.
	assert.Equal(t, 30, cfg.Browser.ActionTimeoutSeconds)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("BD_TEST_KEY", "sk-secret")

	assert.Equal(t, "sk-secret", expandEnvVars("${BD_TEST_KEY}"))
	assert.Equal(t, "prefix-sk-secret", expandEnvVars("prefix-${BD_TEST_KEY}"))
	assert.Equal(t, "${BD_UNSET_VAR}", expandEnvVars("${BD_UNSET_VAR}"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}

func TestExpandSensitiveFields(t *testing.T) {
	t.Setenv("BD_TEST_KEY", "sk-secret")

	cfg := Config{}
	cfg.LLM.APIKey = "${BD_TEST_KEY}"
	expandSensitiveFields(&cfg)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Config{}
		applyDefaults(&cfg)
		return cfg
	}

	t.Run("defaults are valid", func(t *testing.T) {
		cfg := base()
		assert.Empty(t, Validate(&cfg))
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 99999
		issues := Validate(&cfg)
		require.Len(t, issues, 1)
		assert.Equal(t, "server.port", issues[0].Path)
	})

	t.Run("bad bind mode", func(t *testing.T) {
		cfg := base()
		cfg.Server.Bind = "tailnet"
		issues := Validate(&cfg)
		require.Len(t, issues, 1)
		assert.Equal(t, "server.bind", issues[0].Path)
	})

	t.Run("custom bind requires host", func(t *testing.T) {
		cfg := base()
		cfg.Server.Bind = "custom"
		issues := Validate(&cfg)
		require.Len(t, issues, 1)
		assert.Equal(t, "server.customBindHost", issues[0].Path)
	})

	t.Run("collects multiple issues", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 0
		cfg.Browser.MaxSessions = -1
		assert.Len(t, Validate(&cfg), 2)
	})
}
