package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"price-tier-alerts/internal/app"
)

var (
	simulateSymbol    string
	simulatePrice     float64
	simulateChange    float64
	simulateVolume    float64
	simulateMarketCap float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Feed one synthetic price through a full alert cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol is required")
		}
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than zero")
		}

		opts := app.SimulateOptions{
			Symbol: simulateSymbol,
			Price:  simulatePrice,
			Change: simulateChange,
		}
		if cmd.Flags().Changed("volume") {
			opts.Volume = &simulateVolume
		}
		if cmd.Flags().Changed("market-cap") {
			opts.MarketCap = &simulateMarketCap
		}

		_, err := getApp().SimulateAlert(cmd.Context(), opts)
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Asset symbol")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Current price")
	simulateCmd.Flags().Float64Var(&simulateChange, "change", 0, "24h change in percent")
	simulateCmd.Flags().Float64Var(&simulateVolume, "volume", 0, "24h volume")
	simulateCmd.Flags().Float64Var(&simulateMarketCap, "market-cap", 0, "Market capitalisation")
}
