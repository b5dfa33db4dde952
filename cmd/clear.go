package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/xtmscope/pkg/router"
)

var clearCmd = &cobra.Command{
	Use:   "clear <opencti|openaev> [platform-id]",
	Short: "Drop cached entities of one platform, or of a whole family",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		a, err := newApp(s, 0)
		if err != nil {
			return err
		}
		defer a.close()

		p := router.ClearPayload{PlatformType: args[0]}
		if len(args) == 2 {
			p.PlatformID = args[1]
		}
		if _, err := a.dispatch(context.Background(), router.ClearPlatformCache, p); err != nil {
			return err
		}
		if p.PlatformID == "" {
			fmt.Printf("Cleared the %s cache.\n", p.PlatformType)
		} else {
			fmt.Printf("Cleared the cache of %s.\n", p.PlatformID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
