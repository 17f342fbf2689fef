// Package evaluation scores the interview workflow against scripted
// interviews.
//
// A simulated interviewer answers the candidate's questions from the task's
// first-phase context, then raises a challenge from the second-phase
// context, answers again and stops. The final report is graded 0 to 5
// against the task's ideal outcome.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/interview"
)

// DefaultMaxTurns bounds the resumes of one task.
const DefaultMaxTurns = 12

// ErrTooManyTurns is returned when an interview does not finish within
// MaxTurns resumes.
var ErrTooManyTurns = errors.New("interview did not finish within the turn limit")

// Harness runs tasks through an interview engine.
type Harness struct {
	Engine      *interview.Engine
	Interviewer Interviewer

	// MaxTurns defaults to DefaultMaxTurns.
	MaxTurns int

	Logger *slog.Logger
}

func (h *Harness) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Run evaluates every task. A task whose interview fails scores 0 with the
// failure as its reasoning; only a cancelled ctx stops the run early.
func (h *Harness) Run(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := h.RunTask(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			h.logger().Error("task failed", "task", t.ID, "err", err)
			r = Result{TaskID: t.ID, Reasoning: "interview failed: " + err.Error(), Report: r.Report}
		}
		results = append(results, r)
	}
	return results, nil
}

// RunTask plays one interview to completion and scores its report.
func (h *Harness) RunTask(ctx context.Context, t Task) (Result, error) {
	if h.Engine == nil || h.Interviewer == nil {
		return Result{TaskID: t.ID}, errors.New("harness needs an engine and an interviewer")
	}
	maxTurns := h.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	log := h.logger().With("task", t.ID)
	log.Info("starting task", "prompt", t.InitialPrompt)

	challenged := false
	out := h.Engine.Start(ctx, t.InitialPrompt)
	for turn := 0; ; turn++ {
		switch out.Status {
		case graph.StatusCompleted:
			report, ok := interview.Report(out)
			if !ok {
				return Result{TaskID: t.ID}, errors.New("completed interview has no report")
			}
			score, err := h.Interviewer.ScoreReport(ctx, report, t.IdealOutcome)
			if err != nil {
				return Result{TaskID: t.ID, Report: report}, err
			}
			log.Info("task scored", "score", score.Score, "turns", turn)
			return Result{TaskID: t.ID, Score: score.Score, Reasoning: score.Reasoning, Report: report}, nil

		case graph.StatusSuspended:
			if turn >= maxTurns {
				return Result{TaskID: t.ID}, fmt.Errorf("%w (%d)", ErrTooManyTurns, maxTurns)
			}
			value, err := h.reply(ctx, t, out.Prompt, &challenged)
			if err != nil {
				return Result{TaskID: t.ID}, err
			}
			out = h.Engine.Resume(ctx, out.Checkpoint, value)

		default:
			if out.Err == nil {
				return Result{TaskID: t.ID}, fmt.Errorf("interview ended with status %s", out.Status)
			}
			return Result{TaskID: t.ID}, out.Err
		}
	}
}

// reply answers one interrupt. The first next-steps prompt is answered with
// the phase two challenge and the second one stops the interview.
func (h *Harness) reply(ctx context.Context, t Task, prompt any, challenged *bool) (any, error) {
	switch p := prompt.(type) {
	case interview.VerificationPrompt:
		known := t.ContextPhase1
		if *challenged {
			known = t.ContextPhase2
		}
		return h.Interviewer.AnswerVerification(ctx, p.Questions, known)

	case interview.RetryPrompt:
		return "", nil

	case interview.NextStepsPrompt:
		if *challenged {
			return interview.NextSteps{Action: interview.ActionStop}, nil
		}
		challenge, err := h.Interviewer.GenerateChallenge(ctx, t.ContextPhase2)
		if err != nil {
			return nil, err
		}
		*challenged = true
		h.logger().Info("challenge", "task", t.ID, "text", challenge)
		return interview.NextSteps{Action: interview.ActionContinue, Input: challenge}, nil

	default:
		return nil, fmt.Errorf("unexpected prompt %T", prompt)
	}
}
