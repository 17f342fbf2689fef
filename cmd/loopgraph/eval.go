package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/loopgraph/evaluation"
)

var evalCmd = &cobra.Command{
	Use:   "eval <tasks.csv>",
	Short: "Score the interview workflow against a task set",
	Long: `Plays every task of a CSV file with a model acting as the interviewer and
scores the final report against the task's ideal outcome. Results are written
to <out>/results_<timestamp>.csv.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("out")
		maxTurns, _ := cmd.Flags().GetInt("max-turns")

		tasks, err := evaluation.LoadTasks(args[0])
		if err != nil {
			return err
		}

		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		h := &evaluation.Harness{
			Engine:      rt.Engine,
			Interviewer: evaluation.NewLLMInterviewer(rt.Model),
			MaxTurns:    maxTurns,
			Logger:      rt.Logger,
		}
		results, runErr := h.Run(ctx, tasks)

		path, err := saveResults(outDir, time.Now(), results)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), results)
		fmt.Fprintf(cmd.OutOrStdout(), "Results saved to %s\n", path)
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().String("out", "eval_reports", "Directory for the results file")
	evalCmd.Flags().Int("max-turns", evaluation.DefaultMaxTurns, "Interrupts answered per task before giving up")
}

func saveResults(dir string, now time.Time, results []evaluation.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	path := filepath.Join(dir, "results_"+now.Format("20060102_150405")+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := evaluation.WriteResults(f, results); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func printSummary(w io.Writer, results []evaluation.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No tasks were evaluated.")
		return
	}
	total := 0
	for _, r := range results {
		fmt.Fprintf(w, "%-12s %d/%d\n", r.TaskID, r.Score, evaluation.MaxScore)
		total += r.Score
	}
	fmt.Fprintf(w, "Average score: %.2f over %d tasks\n", float64(total)/float64(len(results)), len(results))
}
