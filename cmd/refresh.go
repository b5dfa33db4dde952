package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/xtmscope/internal/config"
	"github.com/sw33tLie/xtmscope/internal/utils"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/router"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh every platform cache once and print the cache stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}

		if s.Cache.Backend == config.BackendSQLite {
			lock, err := utils.NewCacheLock(s.Cache.Path)
			if err != nil {
				return err
			}
			if err := lock.Lock(); err != nil {
				return err
			}
			defer lock.Unlock()
		}

		a, err := newApp(s, 0)
		if err != nil {
			return err
		}
		defer a.close()

		active := 0
		for _, f := range platforms.Families {
			active += len(a.registry.ValidIDs(f))
		}
		if active == 0 {
			utils.Log.Info("No platforms to refresh. Configure them in ~/.xtmscope.yaml")
		}

		ctx := context.Background()
		data, err := a.dispatch(ctx, router.RefreshCache, nil)
		if err != nil {
			return err
		}

		failed := false
		for _, sch := range a.schedulers {
			for _, r := range sch.Status().PlatformResults {
				if r.Failed > 0 {
					utils.Log.Warnf("%s: %d of %d entity types failed", r.PlatformID, r.Failed, r.Attempted)
				}
				if !r.Succeeded {
					failed = true
				}
			}
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if err := printJSON(data); err != nil {
				return err
			}
		} else if err := printStats(os.Stdout, data); err != nil {
			return err
		}
		if failed {
			return fmt.Errorf("some platforms could not be refreshed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().Bool("json", false, "Print the stats as JSON")
}
