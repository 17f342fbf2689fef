package evaluation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/loopgraph/graph/model"
	"github.com/dshills/loopgraph/interview"
)

// candidateModel answers every interview node with canned output.
func candidateModel(valid bool) *model.MockChatModel {
	return &model.MockChatModel{Respond: func(messages []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
		prompt := messages[0].Content
		var v any
		switch {
		case strings.Contains(prompt, "Show seniority"):
			v = map[string]any{
				"hypotheses":             []string{"Write throughput", "Storage growth"},
				"verification_questions": []string{"How many writes?", "How long is data kept?"},
			}
		case strings.Contains(prompt, "Turn your analysis into a verdict"):
			v = map[string]any{
				"hypotheses_feedback": []map[string]any{
					{"hypothesis": "Write throughput", "is_valid": valid, "is_best": valid, "reason": "numbers"},
					{"hypothesis": "Storage growth", "is_valid": false, "reason": "small"},
				},
				"solution_draft": "Partition writes",
			}
		default:
			return model.ChatOut{Text: "Analysis and design."}, nil
		}
		data, _ := json.Marshal(v)
		return model.ChatOut{Text: string(data)}, nil
	}}
}

type fakeInterviewer struct {
	mu         sync.Mutex
	contexts   []string
	challenges int
	reports    []string
}

func (f *fakeInterviewer) AnswerVerification(_ context.Context, questions []string, known string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts = append(f.contexts, known)
	answers := make([]string, len(questions))
	for i := range questions {
		answers[i] = "answer from " + known
	}
	return answers, nil
}

func (f *fakeInterviewer) GenerateChallenge(_ context.Context, known string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges++
	return "What if " + known + "?", nil
}

func (f *fakeInterviewer) ScoreReport(_ context.Context, report, _ string) (Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return Score{Score: 4, Reasoning: "covers the constraints"}, nil
}

var urlTask = Task{
	ID:            "1",
	InitialPrompt: "Design a URL shortener",
	ContextPhase1: "100M links per day",
	ContextPhase2: "reads grow 10x",
	IdealOutcome:  "caching",
}

func newHarness(t *testing.T, valid bool, iv Interviewer) *Harness {
	t.Helper()
	discard := slog.New(slog.DiscardHandler)
	eng, err := interview.NewEngine(interview.Config{Model: candidateModel(valid), Logger: discard})
	require.NoError(t, err)
	return &Harness{Engine: eng, Interviewer: iv, Logger: discard}
}

func TestHarness_RunTask(t *testing.T) {
	iv := &fakeInterviewer{}
	h := newHarness(t, true, iv)

	res, err := h.RunTask(context.Background(), urlTask)
	require.NoError(t, err)

	assert.Equal(t, "1", res.TaskID)
	assert.Equal(t, 4, res.Score)
	assert.Equal(t, "covers the constraints", res.Reasoning)
	assert.Contains(t, res.Report, "**Question:** What if reads grow 10x?")
	assert.Contains(t, res.Report, "answer from 100M links per day")

	assert.Equal(t, []string{"100M links per day", "reads grow 10x"}, iv.contexts)
	assert.Equal(t, 1, iv.challenges)
	require.Len(t, iv.reports, 1)
	assert.Equal(t, res.Report, iv.reports[0])
}

func TestHarness_TurnLimit(t *testing.T) {
	iv := &fakeInterviewer{}
	h := newHarness(t, false, iv)
	h.MaxTurns = 4

	_, err := h.RunTask(context.Background(), urlTask)
	require.ErrorIs(t, err, ErrTooManyTurns)
	assert.Zero(t, iv.challenges, "invalid hypotheses are retried, never challenged")
	assert.Empty(t, iv.reports)
}

func TestHarness_Run(t *testing.T) {
	h := newHarness(t, false, &fakeInterviewer{})
	h.MaxTurns = 2

	results, err := h.Run(context.Background(), []Task{urlTask, {ID: "2", InitialPrompt: "Design a cache"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Zero(t, r.Score)
		assert.Contains(t, r.Reasoning, "interview failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Run(ctx, []Task{urlTask})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHarness_RequiresCollaborators(t *testing.T) {
	_, err := (&Harness{}).RunTask(context.Background(), urlTask)
	assert.Error(t, err)
}
