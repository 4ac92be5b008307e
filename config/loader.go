package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bizchat/conversation"
	"bizchat/prompt"
	"bizchat/providers"
)

// DefaultPath is read when BIZCHAT_CONFIG is unset
const DefaultPath = "bizchat.yaml"

// Config represents the complete configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Conversation ConversationConfig `yaml:"conversation"`
	Audit        AuditConfig        `yaml:"audit"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig from YAML
type ServerConfig struct {
	HTTPPort   int    `yaml:"http_port"`
	HTTPSPort  int    `yaml:"https_port"`
	BaseDomain string `yaml:"base_domain"`
}

// LLMConfig from YAML. The API key is only read from the environment.
type LLMConfig struct {
	APIURL      string        `yaml:"api_url"`
	APIKey      string        `yaml:"-"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// ConversationConfig from YAML
type ConversationConfig struct {
	MaxTurns     int    `yaml:"max_turns"`
	Greeting     string `yaml:"greeting"`
	SystemPrompt string `yaml:"system_prompt"`
	TokenBudget  int    `yaml:"token_budget"`
}

// AuditConfig from YAML
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig from YAML
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file or environment overrides exist
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: 5001,
		},
		LLM: LLMConfig{
			APIURL:  providers.DefaultChatCompletionsURL,
			Model:   providers.DefaultModel,
			Timeout: 120 * time.Second,
		},
		Conversation: ConversationConfig{
			MaxTurns:     conversation.DefaultMaxTurns,
			Greeting:     conversation.DefaultGreeting,
			SystemPrompt: prompt.DefaultSystemPrompt,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "llm_audit.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if it exists), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadYAMLFile(path, cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	expandEnvVars(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAMLFile loads a YAML file into a structure
func loadYAMLFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

// expandEnvVars expands environment variables in configuration
func expandEnvVars(cfg *Config) {
	cfg.Server.BaseDomain = expandEnv(cfg.Server.BaseDomain)
	cfg.LLM.APIURL = expandEnv(cfg.LLM.APIURL)
	cfg.LLM.Model = expandEnv(cfg.LLM.Model)
	cfg.Conversation.Greeting = expandEnv(cfg.Conversation.Greeting)
	cfg.Conversation.SystemPrompt = expandEnv(cfg.Conversation.SystemPrompt)
	cfg.Audit.Path = expandEnv(cfg.Audit.Path)
}

// expandEnv expands environment variables in a string
func expandEnv(s string) string {
	if strings.Contains(s, "${") {
		return os.Expand(s, func(key string) string {
			// Handle default values like ${VAR:-default}
			parts := strings.SplitN(key, ":-", 2)
			value := os.Getenv(parts[0])
			if value == "" && len(parts) > 1 {
				return parts[1]
			}
			return value
		})
	}
	return s
}

// applyEnv overrides file values with environment variables
func applyEnv(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	setInt("HTTP_PORT", &cfg.Server.HTTPPort)
	setInt("HTTPS_PORT", &cfg.Server.HTTPSPort)
	setString("BASE_DOMAIN", &cfg.Server.BaseDomain)

	setString("OPENAI_API_KEY", &cfg.LLM.APIKey)
	setString("API_URL", &cfg.LLM.APIURL)
	setString("MODEL_NAME", &cfg.LLM.Model)
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LLM_TIMEOUT: %w", err))
		} else {
			cfg.LLM.Timeout = d
		}
	}

	setInt("MAX_TURNS", &cfg.Conversation.MaxTurns)
	setInt("TOKEN_BUDGET", &cfg.Conversation.TokenBudget)

	setBool("ENABLE_LLM_AUDIT", &cfg.Audit.Enabled)
	setString("AUDIT_DB_PATH", &cfg.Audit.Path)

	setString("LOG_LEVEL", &cfg.Log.Level)
	setBool("LOG_PRETTY", &cfg.Log.Pretty)

	return errors.Join(errs...)
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort))
	}
	if c.Server.HTTPSPort < 0 || c.Server.HTTPSPort > 65535 {
		errs = append(errs, fmt.Errorf("server.https_port out of range: %d", c.Server.HTTPSPort))
	}
	if c.LLM.APIURL == "" {
		errs = append(errs, errors.New("llm.api_url is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout must be positive, got %s", c.LLM.Timeout))
	}
	if c.Conversation.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("conversation.max_turns must be at least 1, got %d", c.Conversation.MaxTurns))
	}
	if c.Conversation.TokenBudget < 0 {
		errs = append(errs, fmt.Errorf("conversation.token_budget must not be negative, got %d", c.Conversation.TokenBudget))
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, errors.New("audit.path is required when audit is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
