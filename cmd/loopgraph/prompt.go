package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/loopgraph/interview"
)

// errPaused is returned when the interviewer types /pause. The session
// stays resumable from its checkpoint.
var errPaused = errors.New("session paused")

const pauseCommand = "/pause"

// prompter answers interrupt prompts from a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	r   *renderer
}

func newPrompter(in io.Reader, out io.Writer, r *renderer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out, r: r}
}

// readLine prints label and reads one trimmed line.
func (p *prompter) readLine(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == pauseCommand {
		return "", errPaused
	}
	return line, nil
}

// Answer asks the interviewer for the value an interrupt node waits for.
func (p *prompter) Answer(prompt any) (any, error) {
	switch pr := prompt.(type) {
	case interview.VerificationPrompt:
		return p.verification(pr)
	case interview.NextStepsPrompt:
		return p.nextSteps(pr)
	case interview.RetryPrompt:
		return p.retry(pr)
	default:
		return nil, fmt.Errorf("no terminal prompt for %T", prompt)
	}
}

func (p *prompter) verification(pr interview.VerificationPrompt) ([]string, error) {
	fmt.Fprintln(p.out, p.r.Heading("The candidate is considering:"))
	for _, h := range pr.Hypotheses {
		fmt.Fprintf(p.out, "  - %s\n", h)
	}
	fmt.Fprintln(p.out)

	answers := make([]string, 0, len(pr.Questions))
	for i, q := range pr.Questions {
		fmt.Fprintf(p.out, "%s %s\n", p.r.Heading(fmt.Sprintf("Q%d.", i+1)), q)
		a, err := p.readLine("> ")
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, nil
}

func (p *prompter) nextSteps(pr interview.NextStepsPrompt) (interview.NextSteps, error) {
	fmt.Fprintln(p.out, p.r.Markdown(pr.Solution))

	var next interview.NextSteps
	for {
		action, err := p.readLine(fmt.Sprintf("Next step [%s/%s]: ", interview.ActionContinue, interview.ActionStop))
		if err != nil {
			return next, err
		}
		next.Action = strings.ToLower(action)
		if err := next.Validate(); err != nil {
			fmt.Fprintln(p.out, err)
			continue
		}
		break
	}
	if next.Action == interview.ActionStop {
		return next, nil
	}
	if next.Action == "" {
		next.Action = interview.ActionContinue
	}

	input, err := p.readLine("Follow-up question " + p.r.Faint("(empty repeats the opening question)") + ": ")
	if err != nil {
		return next, err
	}
	next.Input = input
	return next, nil
}

func (p *prompter) retry(pr interview.RetryPrompt) (string, error) {
	fmt.Fprintln(p.out, p.r.Heading("None of the hypotheses held up."))
	fmt.Fprintln(p.out, pr.Reason)
	return p.readLine("Hint for the candidate " + p.r.Faint("(optional)") + ": ")
}
