package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"webhook-monitor/internal/alerting"
	"webhook-monitor/internal/monitor"
)

// ProcessTick runs one monitoring cycle over every active alert. Failures of a
// single alert or symbol are logged and never abort the cycle.
func (m *Monitor) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	cfg := m.refreshConfig(ctx)
	m.redrive(ctx, tick)

	sctx, cancel := m.storeCtx(ctx)
	active, err := m.store.ListActive(sctx)
	cancel()
	if err != nil {
		return fmt.Errorf("list active alerts: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	bySymbol := lo.GroupBy(active, func(a monitor.Alert) string { return a.Symbol })
	symbols := lo.Keys(bySymbol)
	sort.Strings(symbols)

	quotes := m.fetch(ctx, symbols)

	var g errgroup.Group
	g.SetLimit(m.workers)
	for _, symbol := range symbols {
		alerts := bySymbol[symbol]
		quote, ok := quotes[symbol]
		if !ok {
			quote = monitor.GapQuote(nil)
		}
		if !quote.Available() {
			m.logger.Warn().Err(quote.Err).Str("symbol", symbol).Time("tick", tick).Msg("feed gap, no progress this cycle")
		}
		g.Go(func() error {
			for _, alert := range alerts {
				if ctx.Err() != nil {
					return nil
				}
				m.cycle(ctx, alert, quote, cfg, tick)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Debug().Time("tick", tick).Int("alerts", len(active)).Int("symbols", len(symbols)).Msg("tick processed")
	return nil
}

// fetch runs one batched price lookup bounded by the feed timeout. A lookup
// that does not return in time leaves every symbol as a gap.
func (m *Monitor) fetch(ctx context.Context, symbols []string) map[string]monitor.Quote {
	fctx, cancel := context.WithTimeout(ctx, m.feedTimeout)
	defer cancel()

	done := make(chan map[string]monitor.Quote, 1)
	go func() {
		done <- m.feed.Prices(fctx, symbols)
	}()

	select {
	case quotes := <-done:
		return quotes
	case <-fctx.Done():
		gap := monitor.GapQuote(fmt.Errorf("%w: %v", monitor.ErrFeedUnavailable, fctx.Err()))
		quotes := make(map[string]monitor.Quote, len(symbols))
		for _, symbol := range symbols {
			quotes[symbol] = gap
		}
		return quotes
	}
}

// cycle evaluates one alert under its pair lock against the freshly read state.
func (m *Monitor) cycle(ctx context.Context, alert monitor.Alert, quote monitor.Quote, cfg monitor.Config, tick time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("alert_id", alert.ID).
				Str("symbol", alert.Symbol).
				Time("tick", tick).
				Interface("panic", r).
				Msg("alert evaluation panicked")
		}
	}()

	unlock := m.pairs.Lock(alert.PairKey())
	defer unlock()

	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	current, err := m.store.GetAlert(sctx, alert.ID)
	if err != nil {
		m.logger.Error().Err(err).Str("alert_id", alert.ID).Time("tick", tick).Msg("failed to reload alert")
		return
	}

	next, changed, err := monitor.CycleCommand{Quote: quote, Config: cfg}.Apply(current, tick)
	if errors.Is(err, monitor.ErrConcurrencyConflict) {
		m.logger.Debug().Str("alert_id", alert.ID).Msg("alert closed elsewhere, cycle discarded")
		return
	}
	if err != nil {
		m.logger.Error().Err(err).Str("alert_id", alert.ID).Time("tick", tick).Msg("cycle evaluation failed")
		return
	}
	if !changed {
		return
	}

	stored, err := m.store.UpdateAlert(sctx, next, current.Version)
	if errors.Is(err, monitor.ErrConcurrencyConflict) {
		m.logger.Info().Str("alert_id", alert.ID).Time("tick", tick).Msg("concurrent write won, cycle discarded")
		return
	}
	if err != nil {
		m.logger.Error().Err(err).Str("alert_id", alert.ID).Time("tick", tick).Msg("failed to persist cycle, retrying next tick")
		return
	}

	if !stored.State.Terminal() {
		return
	}
	m.logger.Info().
		Str("alert_id", stored.ID).
		Str("symbol", stored.Symbol).
		Str("side", string(stored.Side)).
		Str("exit_reason", string(stored.ExitReason)).
		Str("exit_details", stored.ExitDetails).
		Time("tick", tick).
		Msg("alert reached terminal state")

	if stored.State == monitor.StateExecuted {
		m.dispatch(ctx, stored)
	}
	m.notify(ctx, stored, tick)
}

// redrive hands EXECUTED alerts whose dispatch never completed to the executor again.
func (m *Monitor) redrive(ctx context.Context, tick time.Time) {
	if m.executor == nil {
		return
	}
	sctx, cancel := m.storeCtx(ctx)
	pending, err := m.store.ListUndispatched(sctx, m.redriveBatch)
	cancel()
	if err != nil {
		m.logger.Error().Err(err).Time("tick", tick).Msg("failed to list undispatched alerts")
		return
	}
	for _, alert := range pending {
		m.logger.Info().Str("alert_id", alert.ID).Time("tick", tick).Msg("redriving executed alert")
		m.dispatch(ctx, alert)
	}
}

// dispatch runs only after the EXECUTED state is durable. Success is recorded
// so the alert is not offered again.
func (m *Monitor) dispatch(ctx context.Context, alert monitor.Alert) {
	if m.executor == nil {
		return
	}
	if err := m.executor.OnAlertExecuted(ctx, alert); err != nil {
		m.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("execution dispatch failed, will redrive")
		return
	}
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	if err := m.store.MarkDispatched(sctx, alert.ID, m.now()); err != nil {
		m.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to mark alert dispatched")
	}
}

func (m *Monitor) notify(ctx context.Context, alert monitor.Alert, tick time.Time) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, alerting.Notification{Alert: alert, Tick: tick}); err != nil {
		m.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to send outcome notification")
	}
}
