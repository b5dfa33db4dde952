package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/router"
)

var pingCmd = &cobra.Command{
	Use:   "ping [platform-id...]",
	Short: "Test the connection to configured platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		a, err := newApp(s, 2)
		if err != nil {
			return err
		}
		defer a.close()

		ids := args
		if len(ids) == 0 {
			for _, f := range platforms.Families {
				ids = append(ids, a.registry.ValidIDs(f)...)
			}
		}
		if len(ids) == 0 {
			fmt.Println("No active platform configured.")
			return nil
		}

		ctx := context.Background()
		failures := 0
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "PLATFORM\tSTATUS\tVERSION\tUSER\t")
		for _, id := range ids {
			data, err := a.dispatch(ctx, router.TestPlatformConnection, router.ConnectionPayload{PlatformID: id})
			if err != nil {
				failures++
				fmt.Fprintf(w, "%s\tFAILED: %v\t\t\t\n", id, err)
				continue
			}
			info := data.(platforms.ConnectionInfo)
			fmt.Fprintf(w, "%s\tOK\t%s\t%s\t\n", id, info.Version, info.User)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d platforms unreachable", failures, len(ids))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
