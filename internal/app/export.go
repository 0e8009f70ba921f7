package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"webhook-monitor/internal/monitor"
	"webhook-monitor/internal/storage"
)

// defaultExportWindow applies when --from is omitted.
const defaultExportWindow = 7 * 24 * time.Hour

// Export renders terminal alert outcomes as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	outcomes, err := collectOutcomes(ctx, store, from, to)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		a.Logger.Info().Msg("no terminal alerts found for export window")
		return nil
	}

	downsampled := downsampleAlerts(outcomes, opts.MaxPoints)
	a.Logger.Info().Int("total", len(outcomes)).Int("exported", len(downsampled)).Msg("exporting alert outcomes")

	if opts.CSVPath != "" {
		if err := writeAlertsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeOutcomesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// collectOutcomes loads every terminal alert created in [from, to). The point
// cap applies afterwards, when the full series is downsampled.
func collectOutcomes(ctx context.Context, store storage.MonitorStore, from, to time.Time) ([]monitor.Alert, error) {
	var alerts []monitor.Alert
	for _, state := range []monitor.State{monitor.StateExecuted, monitor.StateCancelled} {
		page, err := store.ListHistory(ctx, monitor.HistoryFilter{
			State: state,
			From:  &from,
			To:    &to,
			Limit: math.MaxInt32,
		})
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, page...)
	}
	return terminalOutcomes(alerts), nil
}

// terminalOutcomes keeps closed alerts, oldest terminal_at first.
func terminalOutcomes(alerts []monitor.Alert) []monitor.Alert {
	out := make([]monitor.Alert, 0, len(alerts))
	for _, alert := range alerts {
		if alert.State.Terminal() && alert.TerminalAt != nil {
			out = append(out, alert)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TerminalAt.Before(*out[j].TerminalAt)
	})
	return out
}

func downsampleAlerts(alerts []monitor.Alert, max int) []monitor.Alert {
	if max <= 0 || len(alerts) <= max {
		return alerts
	}
	if max == 1 {
		return alerts[len(alerts)-1:]
	}

	result := make([]monitor.Alert, 0, max)
	step := float64(len(alerts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(alerts) {
			idx = len(alerts) - 1
		}
		result = append(result, alerts[idx])
	}
	return result
}

func writeAlertsCSV(path string, alerts []monitor.Alert) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"id", "symbol", "side", "state", "exit_reason", "exit_details",
		"price_first_alert", "price_alert", "best_price", "execution_price",
		"savings_pct", "efficiency_pct", "monitoring_duration_minutes",
		"replacement_count", "created_at", "terminal_at",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, alert := range alerts {
		best := ""
		if alert.BestSet {
			best = alert.Best.String()
		}
		record := []string{
			alert.ID,
			alert.Symbol,
			string(alert.Side),
			string(alert.State),
			string(alert.ExitReason),
			alert.ExitDetails,
			alert.PriceFirstAlert.String(),
			alert.PriceAlert.String(),
			best,
			csvDecimal(alert.ExecutionPrice),
			csvDecimal(alert.SavingsPct),
			csvDecimal(alert.EfficiencyPct),
			csvDecimal(alert.MonitoringDurationMinutes),
			strconv.Itoa(alert.ReplacementCount),
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.TerminalAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeOutcomesPNG charts savings and efficiency of EXECUTED alerts over time.
func writeOutcomesPNG(path string, alerts []monitor.Alert) error {
	x := make([]time.Time, 0, len(alerts))
	savings := make([]float64, 0, len(alerts))
	efficiency := make([]float64, 0, len(alerts))

	for _, alert := range alerts {
		if alert.SavingsPct == nil {
			continue
		}
		x = append(x, *alert.TerminalAt)
		savings = append(savings, alert.SavingsPct.InexactFloat64())
		eff := 0.0
		if alert.EfficiencyPct != nil {
			eff = alert.EfficiencyPct.InexactFloat64()
		}
		efficiency = append(efficiency, eff)
	}
	if len(x) < 2 {
		return errors.New("at least two executed alerts are required to render a chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Savings (%)",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Efficiency (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Savings %",
				XValues: x,
				YValues: savings,
			},
			chart.TimeSeries{
				Name:    "Efficiency %",
				XValues: x,
				YValues: efficiency,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func csvDecimal(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
