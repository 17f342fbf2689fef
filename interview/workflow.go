// Package interview is a system design interview played by a model.
//
// The candidate proposes hypotheses about the hard parts of a design,
// asks the interviewer to confirm the scale they depend on, checks them
// with a calculator tool and solves the best one. The interviewer then
// continues with a follow-up question or stops, and SaveResults renders
// the whole interview as a markdown report.
//
// The workflow is described in workflow.yaml and executed by the graph
// engine. Three nodes pause for the interviewer:
//
//	AskUserVerification  prompt VerificationPrompt, answer []string
//	AskUserNextSteps     prompt NextStepsPrompt,    answer NextSteps
//	AskUserRetry         prompt RetryPrompt,        answer string (hint)
package interview

import (
	_ "embed"
	"errors"
	"log/slog"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/graph/emit"
	"github.com/dshills/loopgraph/graph/model"
	"github.com/dshills/loopgraph/graph/tool"
)

//go:embed workflow.yaml
var workflowYAML []byte

// WorkflowYAML returns the graph definition of the interview.
func WorkflowYAML() []byte {
	return append([]byte(nil), workflowYAML...)
}

// Types returns a registry holding the types used by the interview graph.
func Types() *graph.TypeRegistry {
	reg := graph.NewTypeRegistry()
	reg.Register(
		graph.TypeOf[Hypotheses](),
		graph.TypeOf[VerificationPrompt](),
		graph.TypeOf[Verdict](),
		graph.TypeOf[Solution](),
		graph.TypeOf[NextStepsPrompt](),
		graph.TypeOf[NextSteps](),
		graph.TypeOf[RetryPrompt](),
		graph.TypeOf[Iteration](),
		graph.TypeOf[Decision](),
	)
	return reg
}

// Predicates returns the edge conditions referenced by workflow.yaml.
func Predicates() graph.Predicates {
	return graph.Predicates{
		"valid":    func(v any) bool { d, ok := v.(Verdict); return ok && d.Valid },
		"invalid":  func(v any) bool { d, ok := v.(Verdict); return ok && !d.Valid },
		"continue": func(v any) bool { d, ok := v.(Decision); return ok && !d.Stop },
		"stop":     func(v any) bool { d, ok := v.(Decision); return ok && d.Stop },
	}
}

// LoadGraph defines the interview graph.
func LoadGraph() (*graph.Graph, error) {
	return graph.LoadYAML(workflowYAML, Types(), Predicates())
}

// Config configures NewEngine.
type Config struct {
	Model model.ChatModel

	// Tools offered during verification. Nil means the calculator.
	Tools *tool.Toolbox

	MaxToolRounds int

	// SimilarityThreshold is passed to Similar.
	SimilarityThreshold float64

	Costs   *model.CostTracker
	Emitter emit.Emitter

	// Logger is used by the nodes and, unless an option overrides it, by
	// the engine.
	Logger *slog.Logger
}

// Engine runs interviews.
type Engine = graph.Engine[Iteration]

// Outcome is the result of one Start or Resume call.
type Outcome = graph.RunOutcome[Iteration]

// NewEngine builds an interview engine. Engine options such as the store or
// the iteration bound are passed through.
func NewEngine(cfg Config, opts ...graph.Option) (*Engine, error) {
	if cfg.Model == nil {
		return nil, errors.New("interview: a chat model is required")
	}
	g, err := LoadGraph()
	if err != nil {
		return nil, err
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = tool.DefaultMaxRounds
	}
	nodes := &Nodes{
		Model:         cfg.Model,
		Tools:         cfg.Tools,
		MaxToolRounds: rounds,
		Costs:         cfg.Costs,
		Emitter:       cfg.Emitter,
		Logger:        cfg.Logger,
	}
	if cfg.Logger != nil {
		opts = append([]graph.Option{graph.WithLogger(cfg.Logger)}, opts...)
	}
	return graph.New(g, nodes.Bindings(), graph.HistoryPolicy[Iteration]{
		Reducer: graph.NewReducer(Similar(cfg.SimilarityThreshold)),
		Extract: graph.FromNode[Iteration](NodeSummarize),
	}, opts...)
}

// Report returns the markdown report of a completed interview.
func Report(out Outcome) (string, bool) {
	v, ok := out.Output(NodeSaveResults)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
