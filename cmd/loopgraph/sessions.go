package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/loopgraph/internal/server"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions <session-id>",
	Short: "List the checkpoints of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		cps, err := rt.Engine.Checkpoints(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		infos := make([]server.CheckpointInfo, 0, len(cps))
		for _, cp := range cps {
			infos = append(infos, server.Info(cp))
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}
		if len(infos) == 0 {
			fmt.Fprintln(out, "No checkpoints found.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHECKPOINT\tNODE\tITERATION\tSTEP\tCREATED")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
				info.ID, info.Node, info.Iteration, info.Step, info.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <checkpoint-id>",
	Short: "Show a checkpoint and the prompt it waits on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		cp, err := rt.Engine.LoadCheckpoint(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(server.Info(cp))
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(checkpointCmd)
	sessionsCmd.Flags().Bool("json", false, "Print checkpoints as JSON")
}
