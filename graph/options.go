package graph

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/loopgraph/graph/emit"
	"github.com/dshills/loopgraph/graph/store"
)

// Options configures Engine execution behavior.
//
// Zero values are valid: the Engine fills in an in-memory store, a null
// emitter, the default logger and UUID session IDs.
type Options struct {
	// MaxSteps bounds the supersteps of one Start or Resume call chain.
	// Zero means no limit.
	MaxSteps int

	// MaxIterations bounds the number of passes through the loop region.
	// Zero means no limit. Setting it also silences the non-termination
	// warning, since the bound guarantees termination.
	MaxIterations int

	// DefaultNodeTimeout bounds nodes whose NodeSpec.Timeout is zero.
	// Zero means no timeout.
	DefaultNodeTimeout time.Duration

	// Store persists snapshots, checkpoints and consumption claims.
	Store store.Store

	// Emitter receives observability events.
	Emitter emit.Emitter

	// Metrics, when set, records Prometheus metrics.
	Metrics *PrometheusMetrics

	// Logger receives engine diagnostics.
	Logger *slog.Logger

	// NewID generates session and checkpoint IDs.
	NewID func() string

	// Now is the clock used to stamp checkpoints.
	Now func() time.Time
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(g, bindings, policy,
//	    graph.WithMaxIterations(10),
//	    graph.WithStore(st),
//	    graph.WithDefaultNodeTimeout(30*time.Second),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts Options
}

// WithOptions applies a whole Options value. Later options override it.
func WithOptions(opts Options) Option {
	return func(cfg *engineConfig) error {
		cfg.opts = opts
		return nil
	}
}

// WithMaxSteps limits the number of supersteps.
//
// When exceeded the session fails with ErrMaxStepsExceeded.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps must be >= 0", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithMaxIterations limits the number of loop iterations.
//
// When the loop-back edge would start iteration n+1 the session fails with
// ErrMaxIterationsExceeded.
func WithMaxIterations(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max iterations must be >= 0", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxIterations = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the execution time limit for nodes without
// their own NodeSpec.Timeout. When exceeded, the node's context is
// cancelled and the session fails with a *NodeExecutionError.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithStore sets the persistence backend.
func WithStore(st store.Store) Option {
	return func(cfg *engineConfig) error {
		if st == nil {
			return &EngineError{Message: "store cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.opts.Store = st
		return nil
	}
}

// WithEmitter sets the observability event receiver.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithLogger sets the logger for engine diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Logger = logger
		return nil
	}
}

// WithIDGenerator replaces the UUID generator. Tests use it for
// deterministic IDs.
func WithIDGenerator(fn func() string) Option {
	return func(cfg *engineConfig) error {
		if fn == nil {
			return errors.New("id generator cannot be nil")
		}
		cfg.opts.NewID = fn
		return nil
	}
}

// WithClock replaces time.Now for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.opts.Now = now
		return nil
	}
}

func (o Options) withDefaults() Options {
	if o.Store == nil {
		o.Store = store.NewMemStore()
	}
	if o.Emitter == nil {
		o.Emitter = emit.NewNullEmitter()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
