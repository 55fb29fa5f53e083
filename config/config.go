// Package config loads the agentstream server configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTSTREAM_"

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Model         ModelConfig         `yaml:"model" json:"model"`
	Agent         AgentConfig         `yaml:"agent" json:"agent"`
	Tools         ToolsConfig         `yaml:"tools" json:"tools"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	AllowedOrigins    []string      `yaml:"allowed_origins" json:"allowed_origins,omitempty"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval" jsonschema:"description=Interval of SSE keep-alive comments; 0 disables them"`

	// UserID is the identity of every request when no access tokens are
	// configured.
	UserID string `yaml:"user_id" json:"user_id" jsonschema:"description=User of a single-tenant server"`
	// AccessTokens maps X-Access-Token values to user ids. When set, every
	// API request must present one of them.
	AccessTokens map[string]string `yaml:"access_tokens" json:"access_tokens,omitempty" jsonschema:"description=Access token to user id; enables per-user authentication"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig selects the model provider.
type ModelConfig struct {
	Provider   string `yaml:"provider" json:"provider" jsonschema:"enum=anthropic,enum=openai"`
	Name       string `yaml:"name" json:"name"`
	APIKey     string `yaml:"api_key" json:"api_key,omitempty" jsonschema:"description=Default key; requests may pass their own via X-Api-Key"`
	BaseURL    string `yaml:"base_url" json:"base_url,omitempty"`
	MaxTokens  int64  `yaml:"max_tokens" json:"max_tokens"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// AgentConfig tunes the run loop.
type AgentConfig struct {
	MaxIterations     int                      `yaml:"max_iterations" json:"max_iterations"`
	MaxParallelTools  int                      `yaml:"max_parallel_tools" json:"max_parallel_tools"`
	CacheMinMessages  int                      `yaml:"cache_min_messages" json:"cache_min_messages"`
	ThinkingBudget    int64                    `yaml:"thinking_budget" json:"thinking_budget"`
	Effort            string                   `yaml:"effort" json:"effort,omitempty" jsonschema:"enum=,enum=low,enum=medium,enum=high"`
	SystemPrompt      string                   `yaml:"system_prompt" json:"system_prompt,omitempty" jsonschema:"description=text/template overriding the built-in prompt"`
	Instructions      string                   `yaml:"instructions" json:"instructions,omitempty"`
	ContextManagement *ContextManagementConfig `yaml:"context_management" json:"context_management,omitempty"`
}

// ContextManagementConfig lets the provider clear old tool uses.
type ContextManagementConfig struct {
	TriggerInputTokens int64    `yaml:"trigger_input_tokens" json:"trigger_input_tokens"`
	KeepToolUses       int64    `yaml:"keep_tool_uses" json:"keep_tool_uses"`
	ClearAtLeastTokens int64    `yaml:"clear_at_least_tokens" json:"clear_at_least_tokens"`
	ExcludeTools       []string `yaml:"exclude_tools" json:"exclude_tools,omitempty"`
}

// ToolsConfig enables tools.
type ToolsConfig struct {
	Calculator bool            `yaml:"calculator" json:"calculator"`
	Memory     bool            `yaml:"memory" json:"memory"`
	Search     SearchConfig    `yaml:"search" json:"search"`
	WebSearch  WebSearchConfig `yaml:"web_search" json:"web_search"`
	WebFetch   WebFetchConfig  `yaml:"web_fetch" json:"web_fetch"`
	GitHub     OAuthConfig     `yaml:"github" json:"github"`
	Spotify    OAuthConfig     `yaml:"spotify" json:"spotify"`
}

// SearchConfig configures the Brave-backed search tool. An empty key
// disables the tool.
type SearchConfig struct {
	APIKey  string `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`
}

// WebSearchConfig configures the provider-native web search tool.
type WebSearchConfig struct {
	Enabled bool  `yaml:"enabled" json:"enabled"`
	MaxUses int64 `yaml:"max_uses" json:"max_uses,omitempty"`
}

// WebFetchConfig configures the provider-native web fetch tool.
type WebFetchConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	MaxUses      int64    `yaml:"max_uses" json:"max_uses,omitempty"`
	AllowedHosts []string `yaml:"allowed_hosts" json:"allowed_hosts,omitempty"`
}

// OAuthConfig holds client credentials of an OAuth-backed tool. Tokens come
// from the connection store; the client credentials are only needed to
// refresh them.
type OAuthConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	ClientID     string   `yaml:"client_id" json:"client_id,omitempty"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret,omitempty"`
	Scopes       []string `yaml:"scopes" json:"scopes,omitempty"`
	BaseURL      string   `yaml:"base_url" json:"base_url,omitempty"`
}

// StorageConfig selects the chat and document store.
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver" jsonschema:"enum=memory,enum=sqlite"`
	Path   string `yaml:"path" json:"path,omitempty"`
}

// LoggingConfig configures the server logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `yaml:"format" json:"format" jsonschema:"enum=console,enum=json"`
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	Metrics bool          `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
	Insecure     bool    `yaml:"insecure" json:"insecure"`
	Environment  string  `yaml:"environment" json:"environment,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path (optional), expands ${VAR} references, applies
// AGENTSTREAM_* overrides and defaults, and validates the result. A .env
// file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML after expanding environment variables. Unknown fields
// are rejected.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = envStr("HOST", cfg.Server.Host)
	cfg.Server.Port = envInt("PORT", cfg.Server.Port)
	cfg.Server.UserID = envStr("USER_ID", cfg.Server.UserID)
	if v := os.Getenv(EnvPrefix + "ACCESS_TOKENS"); v != "" {
		cfg.Server.AccessTokens = parseTokens(v)
	}

	cfg.Model.Provider = envStr("MODEL_PROVIDER", cfg.Model.Provider)
	cfg.Model.Name = envStr("MODEL_NAME", cfg.Model.Name)
	cfg.Model.APIKey = envStr("MODEL_API_KEY", cfg.Model.APIKey)
	cfg.Model.BaseURL = envStr("MODEL_BASE_URL", cfg.Model.BaseURL)

	cfg.Agent.ThinkingBudget = int64(envInt("THINKING_BUDGET", int(cfg.Agent.ThinkingBudget)))
	cfg.Agent.Effort = envStr("EFFORT", cfg.Agent.Effort)

	cfg.Tools.Search.APIKey = envStr("SEARCH_API_KEY", cfg.Tools.Search.APIKey)
	cfg.Tools.GitHub.ClientSecret = envStr("GITHUB_CLIENT_SECRET", cfg.Tools.GitHub.ClientSecret)
	cfg.Tools.Spotify.ClientSecret = envStr("SPOTIFY_CLIENT_SECRET", cfg.Tools.Spotify.ClientSecret)

	cfg.Storage.Driver = envStr("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = envStr("STORAGE_PATH", cfg.Storage.Path)

	cfg.Logging.Level = envStr("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envStr("LOG_FORMAT", cfg.Logging.Format)

	cfg.Observability.Metrics = envBool("METRICS", cfg.Observability.Metrics)
	cfg.Observability.Tracing.Enabled = envBool("TRACING", cfg.Observability.Tracing.Enabled)
	cfg.Observability.Tracing.Endpoint = envStr("OTLP_ENDPOINT", cfg.Observability.Tracing.Endpoint)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.UserID == "" {
		cfg.Server.UserID = "default"
	}

	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Model.APIKey == "" {
		switch cfg.Model.Provider {
		case "anthropic":
			cfg.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 16384
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 2
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 10
	}
	if cfg.Agent.MaxParallelTools == 0 {
		cfg.Agent.MaxParallelTools = 4
	}
	if cfg.Agent.CacheMinMessages == 0 {
		cfg.Agent.CacheMinMessages = 4
	}

	if cfg.Tools.Search.APIKey == "" {
		cfg.Tools.Search.APIKey = os.Getenv("BRAVE_API_KEY")
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.Path == "" {
		cfg.Storage.Path = "agentstream.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	for token, user := range c.Server.AccessTokens {
		if token == "" || user == "" {
			errs = append(errs, errors.New("server.access_tokens entries need a token and a user id"))
			break
		}
	}

	switch c.Model.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("model.provider %q must be anthropic or openai", c.Model.Provider))
	}
	if c.Model.MaxTokens < 0 {
		errs = append(errs, errors.New("model.max_tokens must not be negative"))
	}

	if c.Agent.MaxIterations < 0 {
		errs = append(errs, errors.New("agent.max_iterations must not be negative"))
	}
	if c.Agent.ThinkingBudget < 0 {
		errs = append(errs, errors.New("agent.thinking_budget must not be negative"))
	}
	switch c.Agent.Effort {
	case "", "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("agent.effort %q must be low, medium or high", c.Agent.Effort))
	}

	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be memory or sqlite", c.Storage.Driver))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is unknown", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be console or json", c.Logging.Format))
	}

	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing.sampling_rate %v must be within [0,1]", r))
	}

	return errors.Join(errs...)
}

// parseTokens reads "token=user" pairs separated by commas.
func parseTokens(v string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" || user == "" {
			continue
		}
		tokens[token] = user
	}
	return tokens
}

func envStr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
