package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var alertsLimit int

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Display the persisted monitoring rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowRules(cmd.Context(), cmd.OutOrStdout())
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recent alerts from the audit database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ShowAlerts(cmd.Context(), cmd.OutOrStdout(), app.AlertsOptions{Limit: alertsLimit})
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")
}
