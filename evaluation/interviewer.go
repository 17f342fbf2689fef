package evaluation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/loopgraph/graph/model"
)

// Interviewer plays the human side of an interview.
type Interviewer interface {
	// AnswerVerification answers the candidate's verification questions
	// from what the interviewer knows.
	AnswerVerification(ctx context.Context, questions []string, known string) ([]string, error)

	// GenerateChallenge turns new requirements into a follow-up question.
	GenerateChallenge(ctx context.Context, known string) (string, error)

	// ScoreReport grades a final report against the ideal outcome.
	ScoreReport(ctx context.Context, report, ideal string) (Score, error)
}

// Score is a grade from 0 to 5 with its justification.
type Score struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// MaxScore is the best grade.
const MaxScore = 5

const answerPrompt = `You are a system design interviewer.

Context about the system being designed:
%s

The candidate asked these verification questions:
%s

Answer them based strictly on the context. When the context is silent, invent a reasonable answer
that fits the scale. Reply with a numbered list, one answer per question, in the same order. Keep
each answer short and do not do the candidate's calculations for them.
`

const challengePrompt = `You are a system design interviewer. The interview moves to its second phase.

New context and requirements:
%s

Write one short "what if" challenge that makes the candidate adapt the design, for example:
"Now imagine we need to scale to 1B users. How does this change your design?"
Reply with the challenge only.
`

const scorePrompt = `You are a system design interview evaluator.

Final report from the candidate:
%s

Ideal outcome clues:
%s

Evaluate the report:
1. Does it cover the key constraints?
2. Did it adapt to the second phase?
3. Are the solutions scientifically sound and backed by metrics?

Score on this scale:
0 - misses the key constraints, no grasp of basic system design
1 - understood the task but proposed no viable hypotheses
2 - somewhat viable hypotheses but a weak design that misses the point
3 - good hypotheses and a design on the right track, lacking depth and metrics
4 - good hypotheses and a mostly correct, well reasoned design lacking depth
5 - very good hypotheses and a correct design with sound reasoning and enough depth

Reply with JSON only: {"score": 0, "reasoning": "..."}
`

// LLMInterviewer is an Interviewer backed by a chat model.
type LLMInterviewer struct {
	Model model.ChatModel
}

// NewLLMInterviewer returns an interviewer using m.
func NewLLMInterviewer(m model.ChatModel) *LLMInterviewer {
	return &LLMInterviewer{Model: m}
}

func (i *LLMInterviewer) ask(ctx context.Context, prompt string) (string, error) {
	if i.Model == nil {
		return "", errors.New("interviewer has no model")
	}
	out, err := i.Model.Chat(ctx, []model.Message{model.User(prompt)}, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", errors.New("interviewer model returned an empty reply")
	}
	return text, nil
}

// AnswerVerification implements Interviewer. The reply is split into one
// answer per question when it is a numbered list of the right length, and
// kept whole otherwise.
func (i *LLMInterviewer) AnswerVerification(ctx context.Context, questions []string, known string) ([]string, error) {
	text, err := i.ask(ctx, fmt.Sprintf(answerPrompt, known, strings.Join(questions, "\n")))
	if err != nil {
		return nil, fmt.Errorf("answer verification: %w", err)
	}
	if answers := splitNumbered(text); len(answers) == len(questions) {
		return answers, nil
	}
	return []string{text}, nil
}

// GenerateChallenge implements Interviewer.
func (i *LLMInterviewer) GenerateChallenge(ctx context.Context, known string) (string, error) {
	text, err := i.ask(ctx, fmt.Sprintf(challengePrompt, known))
	if err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	return strings.Trim(text, `"`), nil
}

// ScoreReport implements Interviewer. Scores outside 0..MaxScore are
// clamped.
func (i *LLMInterviewer) ScoreReport(ctx context.Context, report, ideal string) (Score, error) {
	text, err := i.ask(ctx, fmt.Sprintf(scorePrompt, report, ideal))
	if err != nil {
		return Score{}, fmt.Errorf("score report: %w", err)
	}
	var s Score
	if err := model.DecodeJSON(text, &s); err != nil {
		return Score{}, fmt.Errorf("score report: %w", err)
	}
	s.Score = min(max(s.Score, 0), MaxScore)
	return s, nil
}

var numbered = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)$`)

// splitNumbered splits "1. a\n2. b" into its items. Unnumbered lines
// continue the previous item.
func splitNumbered(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if m := numbered.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[2]))
			continue
		}
		if line = strings.TrimSpace(line); line != "" && len(items) > 0 {
			items[len(items)-1] += " " + line
		}
	}
	return items
}
