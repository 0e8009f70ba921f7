package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
)

// Show prints the alerts currently under monitoring.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	gw, closeStore, err := a.openGateway(ctx, "show alerts")
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := gw.ListActive(ctx)
	if err != nil {
		return err
	}
	if opts.Symbol != "" {
		symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
		filtered := alerts[:0]
		for _, alert := range alerts {
			if alert.Symbol == symbol {
				filtered = append(filtered, alert)
			}
		}
		alerts = filtered
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no active alerts")
		return nil
	}

	writeActiveTable(a.Out, alerts)
	return nil
}

// History prints alerts matching filter, newest first.
func (a *App) History(ctx context.Context, filter monitor.HistoryFilter) error {
	gw, closeStore, err := a.openGateway(ctx, "show history")
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := gw.History(ctx, filter)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writeHistoryTable(a.Out, alerts)
	return nil
}

// Summary prints aggregate outcome metrics for the trailing window.
func (a *App) Summary(ctx context.Context, window time.Duration) error {
	gw, closeStore, err := a.openGateway(ctx, "summarise")
	if err != nil {
		return err
	}
	defer closeStore()

	summary, err := gw.Summary(ctx, window)
	if err != nil {
		return err
	}
	writeSummary(a.Out, summary)
	return nil
}

// Cancel closes one monitoring alert on behalf of an operator.
func (a *App) Cancel(ctx context.Context, id, reason string) error {
	gw, closeStore, err := a.openGateway(ctx, "cancel alerts")
	if err != nil {
		return err
	}
	defer closeStore()

	alert, err := gw.Cancel(ctx, id, reason)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "alert %s cancelled (%s %s)\n", alert.ID, alert.Symbol, alert.Side)
	return nil
}

func writeActiveTable(out io.Writer, alerts []monitor.Alert) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tSide\tAlert\tFirst\tBest\tCurrent\tVariation%\tStatus\tStale\tReplaced\tCreated (UTC)")

	for _, alert := range alerts {
		best := "-"
		if alert.BestSet {
			best = alert.Best.String()
		}
		current := "-"
		if !alert.CurrentPrice.IsZero() {
			current = alert.CurrentPrice.String()
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			alert.ID,
			alert.Symbol,
			alert.Side,
			alert.PriceAlert.String(),
			alert.PriceFirstAlert.String(),
			best,
			current,
			formatDecimal(alert.PriceVariationPct, 3),
			alert.MonitoringStatus,
			alert.CyclesWithoutImprovement,
			alert.ReplacementCount,
			alert.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
}

func writeHistoryTable(out io.Writer, alerts []monitor.Alert) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tSide\tState\tExit\tFirst\tExecution\tSavings%\tEfficiency%\tMinutes\tDetails")

	for _, alert := range alerts {
		exit := "-"
		if alert.ExitReason != monitor.ExitNone {
			exit = string(alert.ExitReason)
		}
		details := alert.ExitDetails
		if alert.CancelReason != "" {
			details = strings.TrimSpace(details + " " + alert.CancelReason)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.ID,
			alert.Symbol,
			alert.Side,
			alert.State,
			exit,
			alert.PriceFirstAlert.String(),
			optionalDecimal(alert.ExecutionPrice, -1),
			optionalDecimal(alert.SavingsPct, 3),
			optionalDecimal(alert.EfficiencyPct, 1),
			optionalDecimal(alert.MonitoringDurationMinutes, 1),
			sanitizeInline(details),
		)
	}

	writer.Flush()
}

func writeSummary(out io.Writer, s monitor.Summary) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Since (UTC)\t%s\n", s.Since.UTC().Format(time.RFC3339))
	fmt.Fprintf(writer, "Monitoring\t%d\n", s.Monitoring)
	fmt.Fprintf(writer, "Executed\t%d\n", s.Executed)
	fmt.Fprintf(writer, "Cancelled\t%d\n", s.Cancelled)
	fmt.Fprintf(writer, "Cooldown rejected\t%d\n", s.CooldownRejected)
	fmt.Fprintf(writer, "Avg savings%%\t%s\n", optionalDecimal(s.AvgSavingsPct, 3))
	fmt.Fprintf(writer, "Avg efficiency%%\t%s\n", optionalDecimal(s.AvgEfficiencyPct, 1))
	fmt.Fprintf(writer, "Avg duration (min)\t%s\n", optionalDecimal(s.AvgDurationMinutes, 1))
	writer.Flush()
}

// optionalDecimal renders a nullable metric; negative places keep full precision.
func optionalDecimal(v *decimal.Decimal, places int32) string {
	if v == nil {
		return "-"
	}
	if places < 0 {
		return v.String()
	}
	return formatDecimal(*v, places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
