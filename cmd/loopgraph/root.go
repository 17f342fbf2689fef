package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/loopgraph/internal/app"
	"github.com/dshills/loopgraph/internal/config"
	"github.com/dshills/loopgraph/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "loopgraph",
	Short: "loopgraph runs resumable, cyclic interview workflows",
	Long: `loopgraph plays a system design interview as a workflow graph. Sessions pause
for the interviewer at interrupt nodes and can be resumed later from the
stored checkpoint, from the terminal, over HTTP or through MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}

// loadConfig reads the --config file and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, logging.New(cfg.LogLevel), nil
}

// openRuntime loads the configuration and builds the interview runtime.
func openRuntime(cmd *cobra.Command) (*app.Runtime, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.Open(cfg, logger, app.Options{})
}
