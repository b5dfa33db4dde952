package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/xtmscope/pkg/router"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints how many entities are cached per platform and how old they are.",
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

		data, err := a.dispatch(context.Background(), router.GetCacheStats, nil)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(data)
		}
		return printStats(os.Stdout, data)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("json", false, "Print the stats as JSON")
}
