package cli

import (
	"github.com/spf13/cobra"
)

var (
	cancelReason string
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <alert-id>",
	Short: "Cancel an alert under monitoring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cancel(cmd.Context(), args[0], cancelReason)
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "Operator note stored with the cancellation")
}
