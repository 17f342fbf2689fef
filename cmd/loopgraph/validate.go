package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/interview"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow.yaml]",
	Short: "Check a workflow definition against the interview nodes",
	Long: `Loads a workflow definition with the interview types and edge predicates and
reports structural errors. Without an argument the built-in workflow is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			g   *graph.Graph
			err error
		)
		if len(args) == 0 {
			g, err = interview.LoadGraph()
		} else {
			g, err = graph.LoadFile(args[0], interview.Types(), interview.Predicates())
		}
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Graph is valid: %d nodes, terminals %v\n", len(g.Nodes()), g.Terminals())
		if head, tail, ok := g.Loop(); ok {
			fmt.Fprintf(out, "Loop: %s -> %s\n", tail, head)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
