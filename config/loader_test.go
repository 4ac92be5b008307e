package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_PORT", "HTTPS_PORT", "BASE_DOMAIN", "OPENAI_API_KEY", "API_URL", "MODEL_NAME",
		"LLM_TIMEOUT", "MAX_TURNS", "TOKEN_BUDGET", "ENABLE_LLM_AUDIT", "AUDIT_DB_PATH",
		"LOG_LEVEL", "LOG_PRETTY",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bizchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 50, cfg.Conversation.MaxTurns)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPPORT_DOMAIN", "example.com")

	path := writeFile(t, `
server:
  http_port: 8080
  base_domain: ${SUPPORT_DOMAIN}
llm:
  model: gpt-4o
  timeout: 45s
  temperature: 0.3
conversation:
  max_turns: 3
  greeting: "Hi from ${COMPANY:-Acme}"
  token_budget: 2000
audit:
  enabled: false
log:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "example.com", cfg.Server.BaseDomain)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, 3, cfg.Conversation.MaxTurns)
	assert.Equal(t, "Hi from Acme", cfg.Conversation.Greeting)
	assert.Equal(t, 2000, cfg.Conversation.TokenBudget)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	// untouched fields keep defaults
	assert.Equal(t, Default().LLM.APIURL, cfg.LLM.APIURL)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MODEL_NAME", "gpt-4.1-mini")
	t.Setenv("MAX_TURNS", "10")
	t.Setenv("ENABLE_LLM_AUDIT", "false")
	t.Setenv("LLM_TIMEOUT", "5s")

	cfg, err := Load(writeFile(t, "conversation:\n  max_turns: 3\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4.1-mini", cfg.LLM.Model)
	assert.Equal(t, 10, cfg.Conversation.MaxTurns)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_TURNS", "lots")

	_, err := Load("")
	assert.ErrorContains(t, err, "MAX_TURNS")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)

	_, err := Load(writeFile(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"max turns":  func(c *Config) { c.Conversation.MaxTurns = 0 },
		"budget":     func(c *Config) { c.Conversation.TokenBudget = -1 },
		"model":      func(c *Config) { c.LLM.Model = "" },
		"url":        func(c *Config) { c.LLM.APIURL = "" },
		"timeout":    func(c *Config) { c.LLM.Timeout = 0 },
		"port":       func(c *Config) { c.Server.HTTPPort = 70000 },
		"audit path": func(c *Config) { c.Audit.Path = "" },
	}

	require.NoError(t, Default().Validate())
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
