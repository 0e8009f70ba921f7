package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"webhook-monitor/internal/app"
)

var (
	simulateSymbol string
	simulateSide   string
	simulatePrice  string
	simulatePath   []string
)

var simulateCmd = &cobra.Command{
	Use:     "simulate",
	Short:   "回放一段价格路径，观察告警的监控与退出过程",
	Example: "  webhookmonitor simulate --symbol BTC/USDT --side BUY --price 100 --path 99,98,99.5",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice == "" || len(simulatePath) == 0 {
			return errors.New("--price 与 --path 必须提供")
		}

		_, err := getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Symbol: simulateSymbol,
			Side:   simulateSide,
			Price:  simulatePrice,
			Path:   simulatePath,
		})
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTC/USDT", "交易对")
	simulateCmd.Flags().StringVar(&simulateSide, "side", "BUY", "方向 BUY|SELL")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "告警价格")
	simulateCmd.Flags().StringSliceVar(&simulatePath, "path", nil, "逐周期价格，逗号分隔")
}
