package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the price monitor and the Telegram command loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !runOnce {
			return getApp().Run(cmd.Context())
		}
		stats, err := getApp().RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rules=%d fetch_failures=%d insufficient=%d alerts=%d\n",
			stats.Rules, stats.FetchFailures, stats.Insufficient, stats.Alerts)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Execute a single monitor cycle and exit")
}
