package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/xtmscope/internal/mcpserver"
	"github.com/sw33tLie/xtmscope/internal/utils"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the scan tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		// stdout carries the protocol
		utils.Log.SetOutput(os.Stderr)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(s, 0)
		if err != nil {
			return err
		}
		defer a.close()

		if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
			if err := a.start(ctx); err != nil {
				return err
			}
		}
		return mcpserver.New(a.router, version).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().Bool("refresh", true, "Keep the caches fresh while serving")
}
