package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/loopgraph/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve interviews over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		addr := rt.Config.Server.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(rt.Engine, rt.Logger, rt.Registry)
		return srv.ListenAndServe(ctx, addr, rt.Config.Server.ShutdownTimeout)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve interviews as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		return server.NewMCPServer(rt.Engine, rt.Logger).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}
