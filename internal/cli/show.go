package cli

import (
	"github.com/spf13/cobra"

	"webhook-monitor/internal/app"
)

var (
	showSymbol string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display alerts currently under monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Symbol: showSymbol,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Only show alerts for this symbol, e.g. BTC/USDT")
}
