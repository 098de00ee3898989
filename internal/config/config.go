package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for strand.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the thread/run store backend. Driver is one of
// postgres, sqlite, or memory.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	Path            string        `yaml:"path"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the control bus and presence registry. When Addr is
// empty the in-process bus is used, which limits stop signalling to a single
// instance.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// AgentConfig carries the response processor defaults and the step loop
// bounds applied to every run.
type AgentConfig struct {
	SystemPrompt          string `yaml:"system_prompt"`
	MaxIterations         int    `yaml:"max_iterations"`
	MarkupToolCalling     *bool  `yaml:"markup_tool_calling"`
	StructuredToolCalling bool   `yaml:"structured_tool_calling"`
	ExecuteTools          *bool  `yaml:"execute_tools"`
	ExecuteOnStream       bool   `yaml:"execute_on_stream"`
	ToolExecutionStrategy string `yaml:"tool_execution_strategy"`
	MarkupResultPlacement string `yaml:"markup_result_placement"`
	MaxMarkupToolCalls    int    `yaml:"max_markup_tool_calls"`
}

type ObservabilityConfig struct {
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	SamplingRate    float64 `yaml:"sampling_rate"`
	Environment     string  `yaml:"environment"`
	Insecure        bool    `yaml:"insecure"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration file at path, resolving includes and
// expanding environment variables, and applies defaults.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with all defaults applied, suitable for
// tests and for running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 20
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Redis.PresenceTTL == 0 {
		cfg.Redis.PresenceTTL = 5 * time.Minute
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "openai"
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 25
	}
	if cfg.Agent.MarkupToolCalling == nil {
		enabled := true
		cfg.Agent.MarkupToolCalling = &enabled
	}
	if cfg.Agent.ExecuteTools == nil {
		enabled := true
		cfg.Agent.ExecuteTools = &enabled
	}
	if cfg.Agent.ToolExecutionStrategy == "" {
		cfg.Agent.ToolExecutionStrategy = "sequential"
	}
	if cfg.Agent.MarkupResultPlacement == "" {
		cfg.Agent.MarkupResultPlacement = "assistant_message"
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Agent.ToolExecutionStrategy {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("unknown tool_execution_strategy %q", c.Agent.ToolExecutionStrategy)
	}

	switch c.Agent.MarkupResultPlacement {
	case "user_message", "assistant_message", "inline_edit":
	default:
		return fmt.Errorf("unknown markup_result_placement %q", c.Agent.MarkupResultPlacement)
	}

	if c.Agent.ExecuteTools != nil && *c.Agent.ExecuteTools {
		markup := c.Agent.MarkupToolCalling == nil || *c.Agent.MarkupToolCalling
		if !markup && !c.Agent.StructuredToolCalling {
			return fmt.Errorf("execute_tools requires at least one tool calling format enabled")
		}
	}

	if c.Agent.MaxMarkupToolCalls < 0 {
		return fmt.Errorf("max_markup_tool_calls must be >= 0")
	}
	return nil
}
