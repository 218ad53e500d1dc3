package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/jbdamask/mcpchat/pkg/llm"
)

// Config is the application config, read from YAML.
type Config struct {
	// Model is the default model id, provider.model.
	Model string `yaml:"model,omitempty" jsonschema:"description=Default model id in the form provider.model"`

	SystemPrompt string `yaml:"system_prompt,omitempty"`

	MaxTokens   int      `yaml:"max_tokens,omitempty" jsonschema:"minimum=0"`
	Temperature *float64 `yaml:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`

	// FoldToolErrors shows tool failures to the model instead of ending
	// the run.
	FoldToolErrors bool `yaml:"fold_tool_errors,omitempty"`

	// MCPConfig is an extra mcpServers file loaded after the user and
	// project ones.
	MCPConfig string `yaml:"mcp_config,omitempty"`

	// MCPMaxMessageBytes caps one JSON-RPC line read from an MCP server.
	// Zero keeps the client default of 16 MiB.
	MCPMaxMessageBytes int `yaml:"mcp_max_message_bytes,omitempty" jsonschema:"minimum=0"`

	Providers map[string]ProviderConfig `yaml:"providers"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Server   ServerConfig   `yaml:"server"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
}

type ProviderConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key,omitempty" jsonschema:"description=API key; ${VAR} references are expanded"`
	Models  []string          `yaml:"models"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// TimeoutsConfig holds Go duration strings such as "30s" or "2m".
type TimeoutsConfig struct {
	Handshake string `yaml:"handshake"`
	Call      string `yaml:"call"`
	Shutdown  string `yaml:"shutdown"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `yaml:"format" jsonschema:"enum=text,enum=json"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Providers: map[string]ProviderConfig{
			"openai": {
				BaseURL: llm.DefaultOpenAIBaseURL,
				APIKey:  "${OPENAI_API_KEY}",
				Models:  []string{"gpt-4o", "gpt-4o-mini"},
			},
		},
		Timeouts: TimeoutsConfig{
			Handshake: "30s",
			Call:      "2m",
			Shutdown:  "2s",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		History: HistoryConfig{
			Enabled: true,
			Dir:     filepath.Join(homeDir, ".mcpchat", "projects"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns ~/.config/mcpchat/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "mcpchat", "config.yaml"), nil
}

// Load reads the config named by path, MCPCHAT_CONFIG, or the default
// path, in that order. A missing default file yields the defaults; a
// missing explicit file is an error.
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = os.Getenv("MCPCHAT_CONFIG")
	}
	if path == "" {
		explicit = false
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if model := os.Getenv("MCPCHAT_MODEL"); model != "" {
		c.Model = model
	}
	if level := os.Getenv("MCPCHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if openai, ok := c.Providers["openai"]; ok {
		if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
			openai.BaseURL = url
		}
		c.Providers["openai"] = openai
	}
}

func (c *Config) expandVariables() {
	for name, p := range c.Providers {
		p.BaseURL = expandVars(p.BaseURL)
		p.APIKey = expandVars(p.APIKey)
		for k, v := range p.Headers {
			p.Headers[k] = expandVars(v)
		}
		c.Providers[name] = p
	}
	c.MCPConfig = expandPath(c.MCPConfig)
	c.History.Dir = expandPath(c.History.Dir)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default} with environment
// values.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

func expandPath(p string) string {
	p = expandVars(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func (c *Config) Validate() error {
	var errs []error

	for name, p := range c.Providers {
		if name == "" || strings.Contains(name, ".") {
			errs = append(errs, fmt.Errorf("providers: invalid name %q", name))
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.%s.base_url is required", name))
		}
	}
	if c.Model != "" {
		provider, model, ok := strings.Cut(c.Model, ".")
		if !ok || model == "" {
			errs = append(errs, fmt.Errorf("model %q must have the form provider.model", c.Model))
		} else if _, exists := c.Providers[provider]; !exists {
			errs = append(errs, fmt.Errorf("model %q: no provider %q", c.Model, provider))
		}
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must not be negative"))
	}
	if c.MCPMaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("mcp_max_message_bytes must not be negative"))
	}

	for field, value := range map[string]string{
		"timeouts.handshake": c.Timeouts.Handshake,
		"timeouts.call":      c.Timeouts.Call,
		"timeouts.shutdown":  c.Timeouts.Shutdown,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", field, value))
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// HandshakeTimeout returns the parsed handshake timeout; zero when unset.
func (t TimeoutsConfig) HandshakeTimeout() time.Duration { return parseDuration(t.Handshake) }

// CallTimeout returns the parsed per-call timeout; zero when unset.
func (t TimeoutsConfig) CallTimeout() time.Duration { return parseDuration(t.Call) }

// ShutdownGrace returns the parsed shutdown grace period; zero when unset.
func (t TimeoutsConfig) ShutdownGrace() time.Duration { return parseDuration(t.Shutdown) }

func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// SlogLevel maps the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// LLMProviders converts the provider section for llm.NewProviders.
func (c *Config) LLMProviders() map[string]llm.ProviderConfig {
	out := make(map[string]llm.ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		out[name] = llm.ProviderConfig{
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Models:  p.Models,
			Headers: p.Headers,
		}
	}
	return out
}

// Schema returns the JSON Schema of the config file.
func Schema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "mcpchat configuration"
	return json.MarshalIndent(schema, "", "  ")
}
