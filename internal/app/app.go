// Package app assembles an interview runtime from configuration. The CLI,
// the HTTP server and the MCP server all start from Open.
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/graph/emit"
	"github.com/dshills/loopgraph/graph/model"
	"github.com/dshills/loopgraph/graph/model/anthropic"
	"github.com/dshills/loopgraph/graph/model/google"
	"github.com/dshills/loopgraph/graph/model/openai"
	"github.com/dshills/loopgraph/graph/store"
	"github.com/dshills/loopgraph/internal/config"
	"github.com/dshills/loopgraph/interview"
)

// ollamaURL is used by the ollama provider when no base URL is set.
const ollamaURL = "http://localhost:11434/v1"

// Runtime holds everything an interview session needs.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   store.Store
	Model   model.ChatModel
	Costs   *model.CostTracker
	Emitter emit.Emitter
	Engine  *interview.Engine

	// Registry holds the engine metrics when they are enabled.
	Registry *prometheus.Registry

	closers []io.Closer
}

// Options overrides parts of the runtime, mostly for tests.
type Options struct {
	// Model replaces the configured provider.
	Model model.ChatModel

	// Store replaces the configured backend.
	Store store.Store

	// EventWriter receives log and json events. Nil means stderr.
	EventWriter io.Writer
}

// Open builds a Runtime. The caller must Close it.
func Open(cfg *config.Config, logger *slog.Logger, o Options) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger}

	rt.Store = o.Store
	if rt.Store == nil {
		st, err := OpenStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		rt.Store = st
		if c, ok := st.(io.Closer); ok {
			rt.closers = append(rt.closers, c)
		}
	}

	rt.Model = o.Model
	if rt.Model == nil {
		m, err := NewModel(cfg.Model)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.Model = m
	}

	w := o.EventWriter
	if w == nil {
		w = os.Stderr
	}
	rt.Emitter = NewEmitter(cfg.Engine.Events, w, logger)
	rt.Costs = model.NewCostTracker("loopgraph", "USD")

	opts := []graph.Option{
		graph.WithStore(rt.Store),
		graph.WithEmitter(rt.Emitter),
		graph.WithLogger(logger),
		graph.WithMaxSteps(cfg.Engine.MaxSteps),
		graph.WithMaxIterations(cfg.Engine.MaxIterations),
		graph.WithDefaultNodeTimeout(cfg.Engine.NodeTimeout),
	}
	if cfg.Engine.Metrics {
		rt.Registry = prometheus.NewRegistry()
		opts = append(opts, graph.WithMetrics(graph.NewPrometheusMetrics(rt.Registry)))
	}

	eng, err := interview.NewEngine(interview.Config{
		Model:               rt.Model,
		MaxToolRounds:       cfg.Interview.MaxToolRounds,
		SimilarityThreshold: cfg.Interview.SimilarityThreshold,
		Costs:               rt.Costs,
		Emitter:             rt.Emitter,
		Logger:              logger,
	}, opts...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Engine = eng
	return rt, nil
}

// Close releases the store.
func (rt *Runtime) Close() error {
	var errs []error
	for _, c := range rt.closers {
		errs = append(errs, c.Close())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the configured persistence backend.
func OpenStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	case "mysql":
		return store.NewMySQLStore(cfg.DSN)
	case "redis":
		var opts []store.RedisOption
		if cfg.Redis.Prefix != "" {
			opts = append(opts, store.WithPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, store.WithTTL(cfg.Redis.TTL))
		}
		return store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewModel builds the configured chat model, wrapped with the retry policy.
func NewModel(cfg config.ModelConfig) (model.ChatModel, error) {
	key := cfg.APIKey()
	var m model.ChatModel
	switch cfg.Provider {
	case "anthropic":
		if key == "" {
			return nil, errors.New("anthropic: no API key (set model.api_key or ANTHROPIC_API_KEY)")
		}
		var opts []anthropic.Option
		if cfg.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(cfg.MaxTokens))
		}
		m = anthropic.NewChatModel(key, cfg.Name, opts...)
	case "openai", "ollama":
		var opts []openai.Option
		url := cfg.BaseURL
		if url == "" && cfg.Provider == "ollama" {
			url = ollamaURL
		}
		if url != "" {
			opts = append(opts, openai.WithBaseURL(url))
		}
		if key == "" {
			if cfg.Provider == "openai" {
				return nil, errors.New("openai: no API key (set model.api_key or OPENAI_API_KEY)")
			}
			key = "ollama"
		}
		m = openai.NewChatModel(key, cfg.Name, opts...)
	case "google":
		if key == "" {
			return nil, errors.New("google: no API key (set model.api_key or GEMINI_API_KEY)")
		}
		m = google.NewChatModel(key, cfg.Name)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}

	if cfg.Retry.MaxAttempts <= 1 {
		return m, nil
	}
	return model.WithRetry(m, model.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	})
}

// NewEmitter returns the event sink named by kind.
func NewEmitter(kind string, w io.Writer, logger *slog.Logger) emit.Emitter {
	switch kind {
	case "log":
		return emit.NewLogEmitter(w, false)
	case "json":
		return emit.NewLogEmitter(w, true)
	case "slog":
		return emit.NewSlogEmitter(logger)
	case "otel":
		return emit.NewOTelEmitter(otel.Tracer("github.com/dshills/loopgraph"))
	default:
		return emit.NewNullEmitter()
	}
}
