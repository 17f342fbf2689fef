// Package config loads loopgraph settings.
//
// Settings come from three layers, later ones winning: built-in defaults,
// an optional YAML file and LOOPGRAPH_* environment variables. The merged
// map is decoded into Config with mapstructure, so "30s" becomes a
// time.Duration and "3" an int.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the complete loopgraph configuration.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Store     StoreConfig     `mapstructure:"store"`
	Model     ModelConfig     `mapstructure:"model"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Interview InterviewConfig `mapstructure:"interview"`
	Server    ServerConfig    `mapstructure:"server"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory, sqlite, mysql or redis.
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path"`

	// DSN is the MySQL data source name.
	DSN string `mapstructure:"dsn"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ModelConfig selects the chat model.
type ModelConfig struct {
	// Provider is anthropic, openai, ollama or google.
	Provider string `mapstructure:"provider"`

	// Name is the provider's model name. Empty means the adapter default.
	Name string `mapstructure:"name"`

	// Key is the provider API key. See APIKey for the fallback.
	Key string `mapstructure:"api_key"`

	// BaseURL points the openai provider at a compatible server.
	BaseURL string `mapstructure:"base_url"`

	MaxTokens int `mapstructure:"max_tokens"`

	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig is the backoff policy for model calls. MaxAttempts of 1
// disables retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// EngineConfig tunes the graph engine.
type EngineConfig struct {
	MaxSteps      int           `mapstructure:"max_steps"`
	MaxIterations int           `mapstructure:"max_iterations"`
	NodeTimeout   time.Duration `mapstructure:"node_timeout"`

	// Events is where engine events go: none, log, json, slog or otel.
	Events string `mapstructure:"events"`

	// Metrics enables Prometheus metrics.
	Metrics bool `mapstructure:"metrics"`
}

// InterviewConfig tunes the interview workflow.
type InterviewConfig struct {
	MaxToolRounds       int     `mapstructure:"max_tool_rounds"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`

	// ReportDir receives the markdown reports of finished interviews.
	ReportDir string `mapstructure:"report_dir"`
}

// ServerConfig configures the HTTP shell.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOOPGRAPH_"

// keys lists every setting by its dotted path. The environment variable of
// a setting is EnvPrefix plus the path upper-cased with dots turned into
// underscores: model.api_key is LOOPGRAPH_MODEL_API_KEY.
var keys = []string{
	"log_level",
	"store.driver", "store.path", "store.dsn",
	"store.redis.addr", "store.redis.password", "store.redis.db", "store.redis.prefix", "store.redis.ttl",
	"model.provider", "model.name", "model.api_key", "model.base_url", "model.max_tokens",
	"model.retry.max_attempts", "model.retry.base_delay", "model.retry.max_delay",
	"engine.max_steps", "engine.max_iterations", "engine.node_timeout", "engine.events", "engine.metrics",
	"interview.max_tool_rounds", "interview.similarity_threshold", "interview.report_dir",
	"server.addr", "server.shutdown_timeout",
}

func defaults() map[string]any {
	return map[string]any{
		"log_level": "info",
		"store": map[string]any{
			"driver": "sqlite",
			"path":   "loopgraph.db",
			"redis": map[string]any{
				"addr":   "localhost:6379",
				"prefix": "loopgraph:",
			},
		},
		"model": map[string]any{
			"provider":   "anthropic",
			"max_tokens": 4096,
			"retry": map[string]any{
				"max_attempts": 3,
				"base_delay":   "1s",
				"max_delay":    "30s",
			},
		},
		"engine": map[string]any{
			"max_steps":      500,
			"max_iterations": 10,
			"node_timeout":   "5m",
			"events":         "none",
		},
		"interview": map[string]any{
			"max_tool_rounds":      6,
			"similarity_threshold": 0.85,
			"report_dir":           "reports",
		},
		"server": map[string]any{
			"addr":             ":8080",
			"shutdown_timeout": "10s",
		},
	}
}

// Default returns the configuration with nothing overridden.
func Default() *Config {
	cfg, err := decode(defaults())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the YAML file at path, if path is not empty, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	raw := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var file map[string]any
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		merge(raw, file)
	}
	for _, key := range keys {
		if v, ok := os.LookupEnv(EnvVar(key)); ok {
			set(raw, key, v)
		}
	}

	cfg, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func decode(raw map[string]any) (*Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// merge copies src into dst, descending into nested maps.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				merge(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// set assigns a dotted key, creating intermediate maps.
func set(m map[string]any, key string, v any) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		sub, ok := m[p].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			m[p] = sub
		}
		m = sub
	}
	m[parts[len(parts)-1]] = v
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory", "sqlite", "mysql", "redis":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Store.Driver == "mysql" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn: required for the mysql driver"))
	}
	switch c.Model.Provider {
	case "anthropic", "openai", "ollama", "google":
	default:
		errs = append(errs, fmt.Errorf("model.provider: unknown provider %q", c.Model.Provider))
	}
	if c.Model.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("model.retry.max_attempts: must be at least 1"))
	}
	switch c.Engine.Events {
	case "none", "log", "json", "slog", "otel":
	default:
		errs = append(errs, fmt.Errorf("engine.events: unknown sink %q", c.Engine.Events))
	}
	if c.Engine.MaxSteps < 0 || c.Engine.MaxIterations < 0 {
		errs = append(errs, errors.New("engine: limits must not be negative"))
	}
	if t := c.Interview.SimilarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("interview.similarity_threshold: %v is outside (0, 1]", t))
	}
	return errors.Join(errs...)
}

// APIKey returns the configured key, falling back to the provider's
// conventional environment variable.
func (m ModelConfig) APIKey() string {
	if m.Key != "" {
		return m.Key
	}
	switch m.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "google":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}
