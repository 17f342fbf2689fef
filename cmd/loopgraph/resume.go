package main

import (
	"encoding/json"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/internal/server"
	"github.com/dshills/loopgraph/interview"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <checkpoint-id>",
	Short: "Resume a paused interview",
	Long: `Resumes an interview from a stored checkpoint. Without --value the session
continues interactively in the terminal. With --value the JSON answer is
delivered to the waiting node, one step is run and the outcome is printed as
JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, _ := cmd.Flags().GetString("value")
		plain, _ := cmd.Flags().GetBool("plain")

		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		cp, err := rt.Engine.LoadCheckpoint(ctx, args[0])
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("value") {
			v, err := rt.Engine.DecodeResumeValue(cp, []byte(value))
			if err != nil {
				return err
			}
			out := rt.Engine.Resume(ctx, cp, v)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(server.View(out)); err != nil {
				return err
			}
			return out.Err
		}

		w := cmd.OutOrStdout()
		r := newRenderer(w, plain)
		d := &driver{
			engine:    rt.Engine,
			prompter:  newPrompter(cmd.InOrStdin(), w, r),
			out:       w,
			r:         r,
			reportDir: rt.Config.Interview.ReportDir,
			costs:     rt.Costs,
		}
		return d.drive(ctx, interview.Outcome{
			Status:     graph.StatusSuspended,
			Checkpoint: cp,
			Prompt:     cp.Prompt(),
		})
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().String("value", "", "JSON answer for the waiting node")
	resumeCmd.Flags().Bool("plain", false, "Disable markdown rendering and colors")
}
