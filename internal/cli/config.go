package cli

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the stored monitoring policy",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored monitoring policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowConfig(cmd.Context())
	},
}

var configSetCmd = &cobra.Command{
	Use:     "set key=value [key=value...]",
	Short:   "Update policy values; the whole policy is validated before it is stored",
	Example: "  webhookmonitor config set max_fall_pct=8 cooldown_minutes=10",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetConfig(cmd.Context(), args)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
