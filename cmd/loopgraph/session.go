package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/graph/model"
	"github.com/dshills/loopgraph/interview"
)

// driver runs a session in the terminal until it completes, fails or the
// interviewer pauses it.
type driver struct {
	engine    *interview.Engine
	prompter  *prompter
	out       io.Writer
	r         *renderer
	reportDir string
	costs     *model.CostTracker
}

func (d *driver) drive(ctx context.Context, out interview.Outcome) error {
	for {
		switch out.Status {
		case graph.StatusSuspended:
			v, err := d.prompter.Answer(out.Prompt)
			if errors.Is(err, errPaused) || errors.Is(err, io.EOF) {
				fmt.Fprintf(d.out, "\nPaused at %s. Continue with: loopgraph resume %s\n",
					out.Checkpoint.Node(), out.Checkpoint.ID())
				return nil
			}
			if err != nil {
				return err
			}
			out = d.engine.Resume(ctx, out.Checkpoint, v)

		case graph.StatusCompleted:
			return d.finish(out)

		default:
			if out.Checkpoint != nil {
				fmt.Fprintf(d.out, "Checkpoint %s is still resumable.\n", out.Checkpoint.ID())
			}
			return out.Err
		}
	}
}

func (d *driver) finish(out interview.Outcome) error {
	report, ok := interview.Report(out)
	if !ok {
		return errors.New("session completed without a report")
	}
	fmt.Fprintln(d.out, d.r.Markdown(report))

	if d.reportDir != "" {
		path, err := writeReport(d.reportDir, out.State.ID, report)
		if err != nil {
			return err
		}
		fmt.Fprintf(d.out, "Report saved to %s\n", path)
	}
	if d.costs != nil && len(d.costs.Calls()) > 0 {
		in, outTokens := d.costs.TokenUsage()
		fmt.Fprintln(d.out, d.r.Faint(fmt.Sprintf("%d model calls, %d input / %d output tokens, $%.4f",
			len(d.costs.Calls()), in, outTokens, d.costs.TotalCost())))
	}
	return nil
}

// writeReport stores a report as <dir>/report_<session>.md.
func writeReport(dir, sessionID, report string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, "report_"+sessionID+".md")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
