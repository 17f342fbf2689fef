package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Start an interview in the terminal",
	Long: `Starts a new interview session. The candidate is the configured model and you
play the interviewer, answering its verification questions and choosing the
follow-up. Type /pause at any prompt to stop; the session can be continued
later with 'loopgraph resume'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plain, _ := cmd.Flags().GetBool("plain")

		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		r := newRenderer(out, plain)
		p := newPrompter(cmd.InOrStdin(), out, r)

		question := ""
		if len(args) > 0 {
			question = strings.TrimSpace(args[0])
		}
		if question == "" {
			question, err = p.readLine("Interview question: ")
			if err != nil {
				return err
			}
		}
		if question == "" {
			return fmt.Errorf("an interview question is required")
		}

		d := &driver{
			engine:    rt.Engine,
			prompter:  p,
			out:       out,
			r:         r,
			reportDir: rt.Config.Interview.ReportDir,
			costs:     rt.Costs,
		}
		return d.drive(ctx, rt.Engine.Start(ctx, question))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("plain", false, "Disable markdown rendering and colors")
}
