package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/loopgraph/internal/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of loopgraph",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "loopgraph version %s\n", server.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
