package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	summaryWindow time.Duration
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Aggregate outcome metrics over a trailing window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if summaryWindow <= 0 {
			return fmt.Errorf("--window must be greater than zero")
		}
		return getApp().Summary(cmd.Context(), summaryWindow)
	},
}

func init() {
	summaryCmd.Flags().DurationVar(&summaryWindow, "window", 24*time.Hour, "Trailing window to aggregate")
}
