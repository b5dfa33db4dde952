package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/xtmscope/internal/config"
	"github.com/sw33tLie/xtmscope/internal/server"
	"github.com/sw33tLie/xtmscope/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the entity caches fresh and serve the scan API",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			s.Server.Listen = listen
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(s, 0)
		if err != nil {
			return err
		}
		defer a.close()

		for _, inst := range a.registry.Skipped() {
			utils.Log.Debugf("Platform %s is not active", inst.DisplayName())
		}

		if err := a.start(ctx); err != nil {
			return err
		}
		config.Watch(viper.GetViper(), a.settings, func(next config.Settings) {
			a.reload(ctx, next)
		})

		srv := server.New(a.router, s.Server.Username, s.Server.Password)
		return srv.Start(ctx, s.Server.Listen)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides server.listen)")
}
