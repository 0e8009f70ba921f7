package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"webhook-monitor/internal/execution"
	"webhook-monitor/internal/monitor"
	"webhook-monitor/internal/pricefeed"
	"webhook-monitor/internal/service"
	"webhook-monitor/internal/storage"
)

// Simulate 用给定的价格路径回放一次监控流程，逐周期打印状态。
// 使用内存存储与静态行情，不会触达数据库或交易所。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (monitor.Alert, error) {
	if len(opts.Path) == 0 {
		return monitor.Alert{}, errors.New("价格路径不能为空")
	}
	side, err := monitor.ParseSide(opts.Side)
	if err != nil {
		return monitor.Alert{}, err
	}
	price, err := decimal.NewFromString(strings.TrimSpace(opts.Price))
	if err != nil {
		return monitor.Alert{}, fmt.Errorf("%w: invalid price %q", monitor.ErrValidation, opts.Price)
	}
	path := make([]decimal.Decimal, 0, len(opts.Path))
	for _, raw := range opts.Path {
		p, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return monitor.Alert{}, fmt.Errorf("%w: invalid path price %q", monitor.ErrValidation, raw)
		}
		path = append(path, p)
	}

	policy := a.Config.Monitor.Policy()
	clock := time.Now().UTC().Truncate(time.Second)
	feed := pricefeed.NewStaticFeed()

	svcOpts := service.Options{
		Store:    storage.NewMemoryStore(),
		Feed:     feed,
		Executor: execution.NewLogCollaborator(a.Logger),
		Seed:     policy,
		Workers:  1,
		Now:      func() time.Time { return clock },
	}
	if notifier := a.newNotifier(); notifier != nil {
		svcOpts.Notifier = notifier
	}
	svc := service.New(svcOpts, a.Logger)
	if err := svc.Init(ctx); err != nil {
		return monitor.Alert{}, err
	}

	admission, err := svc.Create(ctx, monitor.Signal{Symbol: opts.Symbol, Side: side, Price: price, Strategy: "simulate"})
	if err != nil {
		return monitor.Alert{}, err
	}
	alert := admission.Alert

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Cycle\tPrice\tBest\tVariation%\tStatus\tStale\tState\tExit")

	for i, p := range path {
		clock = clock.Add(policy.PollInterval())
		feed.Set(alert.Symbol, p)
		if err := svc.ProcessTick(ctx, clock); err != nil {
			return alert, err
		}
		alert, err = svc.Get(ctx, alert.ID)
		if err != nil {
			return alert, err
		}

		best := "-"
		if alert.BestSet {
			best = alert.Best.String()
		}
		exit := "-"
		if alert.ExitReason != monitor.ExitNone {
			exit = string(alert.ExitReason)
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			i+1, p.String(), best, formatDecimal(alert.PriceVariationPct, 3),
			alert.MonitoringStatus, alert.CyclesWithoutImprovement, alert.State, exit)

		if alert.State.Terminal() {
			break
		}
	}
	writer.Flush()

	if alert.State.Terminal() {
		fmt.Fprintf(a.Out, "\n%s: %s\n", alert.ExitReason, alert.ExitDetails)
		if alert.SavingsPct != nil {
			fmt.Fprintf(a.Out, "savings %s%%, efficiency %s%%\n",
				optionalDecimal(alert.SavingsPct, 3), optionalDecimal(alert.EfficiencyPct, 1))
		}
	} else {
		fmt.Fprintln(a.Out, "\nstill monitoring after the last price")
	}
	return alert, nil
}
