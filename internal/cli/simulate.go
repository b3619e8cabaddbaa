package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	simulateSymbol    string
	simulateKind      string
	simulateWindow    int
	simulateThreshold float64
	simulateStart     float64
	simulateCurrent   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格波动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateStart <= 0 || simulateCurrent <= 0 {
			return errors.New("--start 与 --current 必须大于 0")
		}

		outcome, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol:        simulateSymbol,
			Kind:          simulateKind,
			WindowMinutes: simulateWindow,
			ThresholdPct:  decimal.NewFromFloat(simulateThreshold),
			StartPrice:    decimal.NewFromFloat(simulateStart),
			CurrentPrice:  decimal.NewFromFloat(simulateCurrent),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "outcome: %s\n", outcome)
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTCUSDT", "Symbol to simulate")
	simulateCmd.Flags().StringVar(&simulateKind, "market", "spot", "Market kind: spot or perpetual")
	simulateCmd.Flags().IntVar(&simulateWindow, "window", 5, "Window in minutes")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0.5, "Threshold in percent")
	simulateCmd.Flags().Float64Var(&simulateStart, "start", 0, "窗口起始价格")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "当前价格")
}
