package interview

import (
	"fmt"
	"strings"
)

// Hypotheses is the output of GenerateHypotheses: the risks the candidate
// wants to explore and the questions that verify them.
type Hypotheses struct {
	// Initial is the interviewer's opening request.
	Initial string `json:"initial"`

	// Question is what this iteration answers: the opening request, or the
	// follow-up chosen at the end of the previous iteration.
	Question string `json:"question"`

	Hypotheses []string `json:"hypotheses"`
	Questions  []string `json:"verification_questions"`
}

// VerificationPrompt is shown while waiting at AskUserVerification. The
// answer is a []string with one entry per question.
type VerificationPrompt struct {
	Hypotheses []string `json:"hypotheses"`
	Questions  []string `json:"questions"`
}

// Finding is the verification result of one hypothesis.
type Finding struct {
	Hypothesis string `json:"hypothesis"`
	Valid      bool   `json:"is_valid"`
	Best       bool   `json:"is_best"`
	Reason     string `json:"reason"`

	// Solution is set on the best hypothesis once a solution was produced.
	Solution string `json:"solution,omitempty"`
}

// Verdict is the output of VerifyHypotheses.
type Verdict struct {
	// Valid is true when at least one hypothesis holds.
	Valid bool `json:"is_valid"`

	// Best is the hypothesis to solve.
	Best string `json:"best_hypothesis"`

	// Draft is a one-line direction for the solution.
	Draft string `json:"solution_draft"`

	// Reason explains an invalid verdict.
	Reason string `json:"reason"`

	Findings []Finding `json:"findings"`

	// Analysis is the free-form reasoning the findings were extracted from.
	Analysis string `json:"analysis"`
}

// Solution is a markdown design, produced by GenerateSolution and refined
// by CriticReview.
type Solution struct {
	Hypothesis string `json:"hypothesis"`
	Markdown   string `json:"markdown"`
}

// NextStepsPrompt is shown while waiting at AskUserNextSteps.
type NextStepsPrompt struct {
	Solution string `json:"solution"`
}

// Next step actions.
const (
	ActionStop     = "stop"
	ActionContinue = "continue"
	ActionLoop     = "loop"
)

// NextSteps is the interviewer's reply at AskUserNextSteps.
type NextSteps struct {
	Action string `json:"action"`

	// Input is the next question when the interview goes on.
	Input string `json:"input"`
}

// Validate rejects unknown actions. An empty action means continue.
func (n NextSteps) Validate() error {
	switch n.Action {
	case "", ActionStop, ActionContinue, ActionLoop:
		return nil
	default:
		return fmt.Errorf("unknown next step action %q (want %s, %s or %s)", n.Action, ActionStop, ActionContinue, ActionLoop)
	}
}

// RetryPrompt is shown at AskUserRetry when no hypothesis held. The reply
// is a string hint, which may be empty.
type RetryPrompt struct {
	Reason string `json:"reason"`
}

// Iteration is the History record of one pass through the interview loop.
type Iteration struct {
	Number       int      `json:"number"`
	InitialQuery string   `json:"initial_query"`
	Question     string   `json:"current_question"`
	Hypotheses   []string `json:"hypotheses"`
	Questions    []string `json:"verification_questions"`
	Answers      []string `json:"verification_answers"`

	Findings []Finding `json:"findings"`
	Valid    bool      `json:"is_valid"`
	Best     string    `json:"best_hypothesis"`
	Reason   string    `json:"reason,omitempty"`
	Solution string    `json:"solution,omitempty"`

	Action    string `json:"action,omitempty"`
	NextInput string `json:"next_input,omitempty"`
	RetryHint string `json:"retry_hint,omitempty"`
}

// key is what duplicate detection compares: the best hypothesis, or every
// hypothesis when none was chosen.
func (it Iteration) key() string {
	if it.Best != "" {
		return it.Best
	}
	return strings.Join(it.Hypotheses, "\n")
}

// Decision is the output of DetermineNextState, the loop tail.
type Decision struct {
	Stop         bool   `json:"should_stop"`
	NextQuestion string `json:"next_question"`
}
