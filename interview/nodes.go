package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/graph/emit"
	"github.com/dshills/loopgraph/graph/model"
	"github.com/dshills/loopgraph/graph/tool"
)

// Node names of the interview workflow.
const (
	NodeGenerateHypotheses  = "GenerateHypotheses"
	NodeAskUserVerification = "AskUserVerification"
	NodeVerifyHypotheses    = "VerifyHypotheses"
	NodeGenerateSolution    = "GenerateSolution"
	NodeCriticReview        = "CriticReview"
	NodeAskUserNextSteps    = "AskUserNextSteps"
	NodeAskUserRetry        = "AskUserRetry"
	NodeSummarize           = "Summarize"
	NodeDetermineNextState  = "DetermineNextState"
	NodeSaveResults         = "SaveResults"
)

const maxItems = 3

// Nodes holds what the interview node bodies need. The zero value is not
// usable: Model is required.
type Nodes struct {
	Model model.ChatModel

	// Tools are offered during verification. Nil means the calculator only.
	Tools *tool.Toolbox

	// MaxToolRounds bounds the verification tool loop.
	MaxToolRounds int

	// Costs, when set, records token usage of every model call and reports
	// it to Emitter.
	Costs   *model.CostTracker
	Emitter emit.Emitter

	Logger *slog.Logger
}

// Bindings returns the executables of the interview graph.
func (n *Nodes) Bindings() map[string]graph.Node[Iteration] {
	return map[string]graph.Node[Iteration]{
		NodeGenerateHypotheses:  graph.NodeFunc[Iteration](n.generateHypotheses),
		NodeAskUserVerification: graph.NodeFunc[Iteration](askUserVerification),
		NodeVerifyHypotheses:    graph.NodeFunc[Iteration](n.verifyHypotheses),
		NodeGenerateSolution:    graph.NodeFunc[Iteration](n.generateSolution),
		NodeCriticReview:        graph.NodeFunc[Iteration](n.criticReview),
		NodeAskUserNextSteps:    graph.NodeFunc[Iteration](askUserNextSteps),
		NodeAskUserRetry:        graph.NodeFunc[Iteration](askUserRetry),
		NodeSummarize:           graph.NodeFunc[Iteration](summarize),
		NodeDetermineNextState:  graph.NodeFunc[Iteration](determineNextState),
		NodeSaveResults:         graph.NodeFunc[Iteration](saveResults),
	}
}

func (n *Nodes) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n *Nodes) model(node string) model.ChatModel {
	if n.Costs == nil {
		return n.Model
	}
	return model.Track(n.Model, n.Costs, node, n.Emitter)
}

func (n *Nodes) chat(ctx context.Context, node, prompt string) (string, error) {
	out, err := n.model(node).Chat(ctx, []model.Message{model.User(prompt)}, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", errors.New("model returned an empty reply")
	}
	return text, nil
}

func (n *Nodes) generateHypotheses(ctx context.Context, in graph.Input[Iteration]) graph.NodeResult {
	initial, _ := graph.Get[string](in, graph.InputPort)
	question := initial
	if d, ok := graph.Get[Decision](in, NodeDetermineNextState); ok && d.NextQuestion != "" {
		question = d.NextQuestion
	}

	text, err := n.chat(ctx, NodeGenerateHypotheses, fmt.Sprintf(hypothesesPrompt, initial, question, historyText(in.History)))
	if err != nil {
		return graph.Failed(err)
	}
	var reply struct {
		Hypotheses []string `json:"hypotheses"`
		Questions  []string `json:"verification_questions"`
	}
	if err := model.DecodeJSON(text, &reply); err != nil {
		return graph.Failed(fmt.Errorf("parse hypotheses: %w", err))
	}

	out := Hypotheses{
		Initial:    initial,
		Question:   question,
		Hypotheses: clean(reply.Hypotheses),
		Questions:  clean(reply.Questions),
	}
	if len(out.Hypotheses) == 0 || len(out.Questions) == 0 {
		return graph.Failed(errors.New("model proposed no hypotheses or no verification questions"))
	}

	n.logger().Info("generated hypotheses", "session", in.SessionID, "iteration", in.Iteration,
		"hypotheses", len(out.Hypotheses), "questions", len(out.Questions))
	return graph.Produced(out)
}

// clean drops blank entries and keeps at most maxItems.
func clean(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == maxItems {
			break
		}
	}
	return out
}

func askUserVerification(_ context.Context, in graph.Input[Iteration]) graph.NodeResult {
	h, _ := graph.Get[Hypotheses](in, NodeGenerateHypotheses)
	return graph.Suspend(VerificationPrompt{Hypotheses: h.Hypotheses, Questions: h.Questions})
}

type feedback struct {
	Hypothesis string `json:"hypothesis"`
	Valid      bool   `json:"is_valid"`
	Reason     string `json:"reason"`
	Best       bool   `json:"is_best"`
}

func (n *Nodes) verifyHypotheses(ctx context.Context, in graph.Input[Iteration]) graph.NodeResult {
	h, _ := graph.Get[Hypotheses](in, NodeGenerateHypotheses)
	answers, _ := graph.Get[[]string](in, NodeAskUserVerification)

	box := n.Tools
	if box == nil {
		box = tool.NewToolbox(tool.NewCalculator())
	}
	history := historyText(in.History)
	tr, err := tool.RunLoop(ctx, n.model(NodeVerifyHypotheses), []model.Message{
		model.System(fmt.Sprintf(agentPrompt, bullets(h.Hypotheses), bullets(h.Questions), bullets(answers), history)),
		model.User(agentKickoff),
	}, box, n.MaxToolRounds)
	if err != nil {
		return graph.Failed(fmt.Errorf("verification agent: %w", err))
	}
	analysis := strings.TrimSpace(tr.Final.Text)

	text, err := n.chat(ctx, NodeVerifyHypotheses, fmt.Sprintf(extractorPrompt, analysis, bullets(h.Hypotheses), bullets(h.Questions), bullets(answers)))
	if err != nil {
		return graph.Failed(err)
	}
	var reply struct {
		Feedback []feedback `json:"hypotheses_feedback"`
		Draft    string     `json:"solution_draft"`
	}
	if err := model.DecodeJSON(text, &reply); err != nil {
		return graph.Failed(fmt.Errorf("parse verification: %w", err))
	}

	v := newVerdict(reply.Feedback, reply.Draft, analysis)
	n.logger().Info("verified hypotheses", "session", in.SessionID, "valid", v.Valid, "best", v.Best, "tool_rounds", tr.Rounds)
	return graph.Produced(v)
}

// newVerdict derives the global verdict. It is valid when any hypothesis
// is. The best hypothesis is the first one flagged best, falling back to the
// first valid one, and exactly that finding keeps the best flag.
func newVerdict(items []feedback, draft, analysis string) Verdict {
	v := Verdict{Draft: strings.TrimSpace(draft), Analysis: analysis}
	for _, f := range items {
		v.Findings = append(v.Findings, Finding{
			Hypothesis: strings.TrimSpace(f.Hypothesis),
			Valid:      f.Valid,
			Best:       f.Best,
			Reason:     strings.TrimSpace(f.Reason),
		})
		v.Valid = v.Valid || f.Valid
	}

	best := -1
	for i, f := range v.Findings {
		if f.Best && best < 0 {
			best = i
		}
		v.Findings[i].Best = false
	}
	if best < 0 && v.Valid {
		for i, f := range v.Findings {
			if f.Valid {
				best = i
				break
			}
		}
	}
	if best >= 0 {
		v.Findings[best].Best = true
		v.Best = v.Findings[best].Hypothesis
	}

	if !v.Valid {
		var reasons []string
		for _, f := range v.Findings {
			if f.Reason != "" {
				reasons = append(reasons, f.Hypothesis+": "+f.Reason)
			}
		}
		v.Reason = strings.Join(reasons, "; ")
		if v.Reason == "" {
			v.Reason = "No valid hypotheses found."
		}
	}
	return v
}

func (n *Nodes) generateSolution(ctx context.Context, in graph.Input[Iteration]) graph.NodeResult {
	v, _ := graph.Get[Verdict](in, NodeVerifyHypotheses)
	h, _ := graph.Get[Hypotheses](in, NodeGenerateHypotheses)
	answers, _ := graph.Get[[]string](in, NodeAskUserVerification)

	extend := ""
	if in.Iteration > 1 {
		extend = fmt.Sprintf(extendNote, in.Iteration)
	}
	text, err := n.chat(ctx, NodeGenerateSolution, fmt.Sprintf(solutionPrompt,
		historyText(in.History), v.Best, bullets(h.Questions), bullets(answers), v.Draft, extend, v.Best))
	if err != nil {
		return graph.Failed(err)
	}
	return graph.Produced(Solution{Hypothesis: v.Best, Markdown: text})
}

func (n *Nodes) criticReview(ctx context.Context, in graph.Input[Iteration]) graph.NodeResult {
	sol, _ := graph.Get[Solution](in, NodeGenerateSolution)
	h, _ := graph.Get[Hypotheses](in, NodeGenerateHypotheses)
	answers, _ := graph.Get[[]string](in, NodeAskUserVerification)

	text, err := n.chat(ctx, NodeCriticReview, fmt.Sprintf(criticPrompt,
		historyText(in.History), sol.Hypothesis, bullets(h.Questions), bullets(answers), sol.Markdown))
	if err != nil {
		return graph.Failed(err)
	}
	return graph.Produced(Solution{Hypothesis: sol.Hypothesis, Markdown: text})
}

func askUserNextSteps(_ context.Context, in graph.Input[Iteration]) graph.NodeResult {
	sol, _ := graph.Get[Solution](in, NodeCriticReview)
	return graph.Suspend(NextStepsPrompt{Solution: sol.Markdown})
}

func askUserRetry(_ context.Context, in graph.Input[Iteration]) graph.NodeResult {
	v, _ := graph.Get[Verdict](in, NodeVerifyHypotheses)
	return graph.Suspend(RetryPrompt{Reason: v.Reason})
}

// summarize builds the iteration record from everything the iteration
// produced.
func summarize(_ context.Context, in graph.Input[Iteration]) graph.NodeResult {
	h, _ := graph.Get[Hypotheses](in, NodeGenerateHypotheses)
	answers, _ := graph.Get[[]string](in, NodeAskUserVerification)
	v, _ := graph.Get[Verdict](in, NodeVerifyHypotheses)

	it := Iteration{
		Number:       in.Iteration,
		InitialQuery: h.Initial,
		Question:     h.Question,
		Hypotheses:   h.Hypotheses,
		Questions:    h.Questions,
		Answers:      answers,
		Findings:     append([]Finding(nil), v.Findings...),
		Valid:        v.Valid,
		Best:         v.Best,
		Reason:       v.Reason,
	}
	if sol, ok := graph.Get[Solution](in, NodeCriticReview); ok {
		it.Solution = sol.Markdown
		for i := range it.Findings {
			if it.Findings[i].Best {
				it.Findings[i].Solution = sol.Markdown
			}
		}
	}
	if next, ok := graph.Get[NextSteps](in, NodeAskUserNextSteps); ok {
		if err := next.Validate(); err != nil {
			return graph.Failed(err)
		}
		it.Action = next.Action
		it.NextInput = next.Input
	}
	if hint, ok := graph.Get[string](in, NodeAskUserRetry); ok {
		it.RetryHint = strings.TrimSpace(hint)
	}
	return graph.Produced(it)
}

func determineNextState(_ context.Context, in graph.Input[Iteration]) graph.NodeResult {
	it, _ := graph.Get[Iteration](in, NodeSummarize)
	return graph.Produced(decide(it))
}

// decide chooses between another iteration and the end of the interview.
// An invalid iteration always retries with the reason as the question.
func decide(it Iteration) Decision {
	if !it.Valid {
		q := fmt.Sprintf("Previous hypotheses were invalid. Reason: %s. Please try again considering this.", it.Reason)
		if it.RetryHint != "" {
			q += " Interviewer hint: " + it.RetryHint
		}
		return Decision{NextQuestion: q}
	}
	if it.Action == ActionStop {
		return Decision{Stop: true}
	}
	return Decision{NextQuestion: it.NextInput}
}

func saveResults(_ context.Context, in graph.Input[Iteration]) graph.NodeResult {
	return graph.Produced(RenderReport(in.History))
}
