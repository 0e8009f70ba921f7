package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"webhook-monitor/internal/monitor"
)

var (
	historySymbol     string
	historySide       string
	historyState      string
	historyExitReason string
	historyFrom       string
	historyTo         string
	historyLimit      int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past and current alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := buildHistoryFilter()
		if err != nil {
			return err
		}
		return getApp().History(cmd.Context(), filter)
	},
}

func buildHistoryFilter() (monitor.HistoryFilter, error) {
	if historyLimit <= 0 {
		return monitor.HistoryFilter{}, fmt.Errorf("--limit must be greater than zero")
	}

	filter := monitor.HistoryFilter{
		Symbol:     strings.ToUpper(strings.TrimSpace(historySymbol)),
		State:      monitor.State(strings.ToUpper(historyState)),
		ExitReason: monitor.ExitReason(strings.ToUpper(historyExitReason)),
		Limit:      historyLimit,
	}

	if historySide != "" {
		side, err := monitor.ParseSide(historySide)
		if err != nil {
			return filter, err
		}
		filter.Side = side
	}

	if historyFrom != "" {
		from, err := time.Parse(time.RFC3339, historyFrom)
		if err != nil {
			return filter, fmt.Errorf("invalid --from value: %w", err)
		}
		filter.From = &from
	}

	if historyTo != "" {
		to, err := time.Parse(time.RFC3339, historyTo)
		if err != nil {
			return filter, fmt.Errorf("invalid --to value: %w", err)
		}
		filter.To = &to
	}

	return filter, nil
}

func init() {
	historyCmd.Flags().StringVar(&historySymbol, "symbol", "", "Filter by symbol")
	historyCmd.Flags().StringVar(&historySide, "side", "", "Filter by side (BUY|SELL)")
	historyCmd.Flags().StringVar(&historyState, "state", "", "Filter by state (MONITORING|EXECUTED|CANCELLED)")
	historyCmd.Flags().StringVar(&historyExitReason, "exit-reason", "", "Filter by exit reason, e.g. MAX_TIME")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "Created at or after (RFC3339)")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "Created before (RFC3339)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", monitor.DefaultHistoryLimit, "Maximum number of alerts to list")
}
