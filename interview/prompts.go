package interview

import (
	"fmt"
	"strings"
)

const hypothesesPrompt = `You are a senior software engineer playing the candidate in a system design interview.

Initial request: %q
The interviewer now asks: %q

Earlier iterations of this interview:
%s

Show seniority by spotting the engineering challenges that matter before solving anything. Do not
over-engineer for problems that do not exist.

1. Pick only the two or three most critical or interesting risks. A challenge is not always about
   performance: it may be the data model or a validation algorithm.
2. Every risk must be verified before it is modeled, so ask the interviewer to clarify the scale or
   constraints it depends on. For example: "Read latency matters if QPS is high; how many reads per
   second do we expect?"

Reply with JSON only, in this shape:
{"hypotheses": ["..."], "verification_questions": ["..."]}
`

const agentPrompt = `You are a senior software engineer playing the candidate in a system design interview.
Decide, scientifically, whether each hypothesis below is a real challenge given the interviewer's answers.

Use the calculate_metrics tool for every number you rely on (QPS, storage, bandwidth, fan-out).
Call it with a "script" argument holding one statement per line, for example:
  daily_writes = 5000 * 86400
  daily_writes * 2 / 1000000000

Hypotheses:
%s

Verification questions:
%s

Interviewer's answers:
%s

Earlier iterations:
%s

When the calculations are done, write a detailed analysis of each hypothesis.
`

const agentKickoff = "Please verify the hypotheses now."

const extractorPrompt = `You are a senior software engineer playing the candidate in a system design interview.
Turn your analysis into a verdict for each hypothesis, pick the best valid one and give a one-line
direction for solving it (for example "Focus on search latency with a geohash index").

Analysis:
%s

Hypotheses analyzed:
%s

Verification questions:
%s

Interviewer's answers:
%s

Reply with JSON only, in this shape:
{"hypotheses_feedback": [{"hypothesis": "...", "is_valid": true, "reason": "...", "is_best": true}],
 "solution_draft": "..."}
`

const solutionPrompt = `You are a senior software engineer playing the candidate in a system design interview.

Earlier iterations:
%s

Confirmed challenge: %s

Verification questions you asked:
%s

Interviewer's answers:
%s

Initial direction: %s
%s
Solve this challenge with abstract models.

1. Describe logical data structures and algorithms, not vendors. "A distributed hash map with TTL",
   not "Redis". The model must support reasoning about complexity, concurrency and topology.
2. Propose at least two distinct models and derive the behavior of the real system from the
   properties of each model.

Answer in markdown with exactly these sections:
1. Current Challenge: %s
2. Models & Alternatives
   - Model A (abstract name): description
   - Model B (abstract name): description
3. Surrogate Reasoning
4. Decision
`

const extendNote = `
This is iteration %d of the interview. Build on the solutions above instead of starting over.
`

const criticPrompt = `You are a principal engineer reviewing a design before it is presented.

Earlier iterations:
%s

Confirmed challenge: %s

Verification questions asked:
%s

Interviewer's answers:
%s

Proposed solution:
%s

Look for bottlenecks, single points of failure and missed requirements. Check that the models stay
abstract and that the reasoning is sound, then return the improved solution (or the original, if it
holds) in markdown with the same four sections: Current Challenge, Models & Alternatives, Surrogate
Reasoning, Decision. Write it in the candidate's voice and do not mention the review.
`

// historyText renders earlier iterations for prompts.
func historyText(history []Iteration) string {
	if len(history) == 0 {
		return "No previous history."
	}
	var b strings.Builder
	for i, it := range history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Iteration %d\nQuestion: %s\n", it.Number, it.Question)
		for _, f := range it.Findings {
			status := "not valid"
			if f.Valid {
				status = "valid"
			}
			fmt.Fprintf(&b, "- %s (%s)", f.Hypothesis, status)
			if f.Best {
				b.WriteString(" [best]")
			}
			b.WriteString("\n")
		}
		if it.Solution != "" {
			fmt.Fprintf(&b, "Solution:\n%s\n", it.Solution)
		}
	}
	return b.String()
}

// bullets renders a list one item per line.
func bullets(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, s := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, s)
	}
	return b.String()
}
