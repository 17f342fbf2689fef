package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loopgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, 3, cfg.Model.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Model.Retry.BaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Engine.NodeTimeout)
	assert.Equal(t, 0.85, cfg.Interview.SimilarityThreshold)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
store:
  driver: redis
  redis:
    addr: redis:6379
    ttl: 24h
model:
  provider: ollama
  base_url: http://localhost:11434/v1
  name: llama3
engine:
  max_iterations: 4
  node_timeout: 90s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "loopgraph:", cfg.Store.Redis.Prefix, "untouched nested defaults survive")
	assert.Equal(t, 24*time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, "ollama", cfg.Model.Provider)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Model.BaseURL)
	assert.Equal(t, 4, cfg.Engine.MaxIterations)
	assert.Equal(t, 500, cfg.Engine.MaxSteps)
	assert.Equal(t, 90*time.Second, cfg.Engine.NodeTimeout)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, "engine:\n  max_iterations: 4\n")
	t.Setenv("LOOPGRAPH_ENGINE_MAX_ITERATIONS", "7")
	t.Setenv("LOOPGRAPH_MODEL_API_KEY", "sk-test")
	t.Setenv("LOOPGRAPH_ENGINE_METRICS", "true")
	t.Setenv("LOOPGRAPH_SERVER_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxIterations)
	assert.Equal(t, "sk-test", cfg.Model.APIKey())
	assert.True(t, cfg.Engine.Metrics)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"unknown key", "engine:\n  max_loops: 3\n", "max_loops"},
		{"bad duration", "engine:\n  node_timeout: soon\n", "node_timeout"},
		{"bad yaml", "engine: [\n", "parse config"},
		{"unknown driver", "store:\n  driver: etcd\n", `unknown driver "etcd"`},
		{"mysql without dsn", "store:\n  driver: mysql\n", "store.dsn"},
		{"unknown provider", "model:\n  provider: acme\n", `unknown provider "acme"`},
		{"threshold", "interview:\n  similarity_threshold: 1.5\n", "similarity_threshold"},
		{"events", "engine:\n  events: kafka\n", `unknown sink "kafka"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "LOOPGRAPH_MODEL_API_KEY", EnvVar("model.api_key"))
	assert.Equal(t, "LOOPGRAPH_STORE_REDIS_ADDR", EnvVar("store.redis.addr"))
}

func TestAPIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	assert.Equal(t, "from-env", ModelConfig{Provider: "openai"}.APIKey())
	assert.Equal(t, "explicit", ModelConfig{Provider: "openai", Key: "explicit"}.APIKey())
	assert.Equal(t, "google-key", ModelConfig{Provider: "google"}.APIKey())
	assert.Empty(t, ModelConfig{Provider: "ollama"}.APIKey())
}
