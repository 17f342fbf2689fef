package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/graph/emit"
	"github.com/dshills/loopgraph/graph/model"
	"github.com/dshills/loopgraph/graph/store"
	"github.com/dshills/loopgraph/internal/config"
	"github.com/dshills/loopgraph/internal/logging"
)

func TestOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.Engine.Events = "json"
	cfg.Engine.Metrics = true

	var events bytes.Buffer
	m := &model.MockChatModel{Responses: []model.ChatOut{{
		Text: `{"hypotheses": ["Hot keys"], "verification_questions": ["Peak QPS?"]}`,
	}}}
	rt, err := Open(cfg, logging.NewNop(), Options{Model: m, EventWriter: &events})
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Registry)
	assert.IsType(t, &store.MemStore{}, rt.Store)

	out := rt.Engine.Start(context.Background(), "Design a counter service")
	require.NoError(t, out.Err)
	assert.Equal(t, graph.StatusSuspended, out.Status)
	assert.Contains(t, events.String(), `"nodeID":"GenerateHypotheses"`)
	assert.Len(t, rt.Costs.Calls(), 1)

	families, err := rt.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOpen_BadModel(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Default()
	cfg.Store.Driver = "memory"

	_, err := Open(cfg, nil, Options{})
	assert.ErrorContains(t, err, "no API key")
}

func TestOpenStore(t *testing.T) {
	st, err := OpenStore(config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &store.MemStore{}, st)

	st, err = OpenStore(config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "lg.db")})
	require.NoError(t, err)
	sq, ok := st.(*store.SQLiteStore)
	require.True(t, ok)
	require.NoError(t, sq.Close())

	st, err = OpenStore(config.StoreConfig{Driver: "redis", Redis: config.RedisConfig{Addr: "localhost:0"}})
	require.NoError(t, err)
	assert.IsType(t, &store.RedisStore{}, st)

	_, err = OpenStore(config.StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}

func TestNewModel(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	tests := []struct {
		name  string
		cfg   config.ModelConfig
		fails bool
	}{
		{"anthropic", config.ModelConfig{Provider: "anthropic", Key: "k", Retry: config.RetryConfig{MaxAttempts: 3}}, false},
		{"anthropic without key", config.ModelConfig{Provider: "anthropic"}, true},
		{"openai without key", config.ModelConfig{Provider: "openai"}, true},
		{"ollama needs no key", config.ModelConfig{Provider: "ollama", Retry: config.RetryConfig{MaxAttempts: 1}}, false},
		{"google", config.ModelConfig{Provider: "google", Key: "k", Retry: config.RetryConfig{MaxAttempts: 1}}, false},
		{"google without key", config.ModelConfig{Provider: "google"}, true},
		{"unknown", config.ModelConfig{Provider: "acme", Key: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewModel(tt.cfg)
			if tt.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, m)
		})
	}
}

func TestNewEmitter(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewNop()
	assert.IsType(t, &emit.LogEmitter{}, NewEmitter("log", &buf, log))
	assert.IsType(t, &emit.LogEmitter{}, NewEmitter("json", &buf, log))
	assert.IsType(t, &emit.SlogEmitter{}, NewEmitter("slog", &buf, log))
	assert.IsType(t, &emit.OTelEmitter{}, NewEmitter("otel", &buf, log))
	assert.IsType(t, &emit.NullEmitter{}, NewEmitter("none", &buf, log))
}
