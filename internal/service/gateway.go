package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webhook-monitor/internal/monitor"
)

// DefaultSummaryWindow is the trailing window of Summary when none is given.
const DefaultSummaryWindow = 24 * time.Hour

// Cancel closes a MONITORING alert on operator request. It fails with
// monitor.ErrConflict when the alert is already terminal, including when the
// scheduler closed it first.
func (m *Monitor) Cancel(ctx context.Context, id, reason string) (monitor.Alert, error) {
	sctx, cancel := m.storeCtx(ctx)
	current, err := m.store.GetAlert(sctx, id)
	cancel()
	if err != nil {
		return monitor.Alert{}, err
	}
	if current.State.Terminal() {
		return monitor.Alert{}, fmt.Errorf("%w: alert %s is %s", monitor.ErrConflict, id, current.State)
	}

	unlock := m.pairs.Lock(current.PairKey())
	defer unlock()

	cmd := monitor.CancelCommand{Reason: monitor.ExitCancelled, Details: "cancelled by operator", Note: reason}
	for attempt := 1; ; attempt++ {
		stored, err := m.apply(ctx, id, cmd)
		if errors.Is(err, monitor.ErrConcurrencyConflict) && attempt < admitAttempts {
			continue
		}
		if err != nil {
			return monitor.Alert{}, err
		}
		m.logger.Info().Str("alert_id", id).Str("symbol", stored.Symbol).Str("reason", reason).Msg("alert cancelled by operator")
		m.notify(ctx, stored, m.now())
		return stored, nil
	}
}

// apply re-reads the alert, applies cmd and writes the result with a version
// guard in one statement. The caller holds the pair lock.
func (m *Monitor) apply(ctx context.Context, id string, cmd monitor.Command) (monitor.Alert, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	current, err := m.store.GetAlert(sctx, id)
	if err != nil {
		return monitor.Alert{}, err
	}
	next, changed, err := cmd.Apply(current, m.now())
	if err != nil {
		return monitor.Alert{}, err
	}
	if !changed {
		return current, nil
	}
	return m.store.UpdateAlert(sctx, next, current.Version)
}

// ListActive returns every MONITORING alert.
func (m *Monitor) ListActive(ctx context.Context) ([]monitor.Alert, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	return m.store.ListActive(sctx)
}

// Get returns one alert by id.
func (m *Monitor) Get(ctx context.Context, id string) (monitor.Alert, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	return m.store.GetAlert(sctx, id)
}

// History lists alerts matching filter, newest first.
func (m *Monitor) History(ctx context.Context, filter monitor.HistoryFilter) ([]monitor.Alert, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", monitor.ErrValidation)
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit cannot be negative", monitor.ErrValidation)
	}
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	return m.store.ListHistory(sctx, filter)
}

// Summary aggregates outcomes over the trailing window.
func (m *Monitor) Summary(ctx context.Context, window time.Duration) (monitor.Summary, error) {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	return m.store.Summarize(sctx, m.now().Add(-window))
}

// Config returns the stored monitoring policy, or the seed when none is stored.
func (m *Monitor) Config(ctx context.Context) (monitor.Config, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	cfg, found, err := m.store.LoadConfig(sctx)
	if err != nil {
		return monitor.Config{}, err
	}
	if !found {
		return m.seed, nil
	}
	return cfg, nil
}

// UpdateConfig validates and stores a new policy. An invalid policy is rejected
// as a whole with monitor.ErrInvalidConfig.
func (m *Monitor) UpdateConfig(ctx context.Context, cfg monitor.Config) (monitor.Config, error) {
	if err := cfg.Validate(); err != nil {
		return monitor.Config{}, err
	}
	cfg.UpdatedAt = m.now()

	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	if err := m.store.SaveConfig(sctx, cfg); err != nil {
		return monitor.Config{}, fmt.Errorf("save config: %w", err)
	}
	m.setConfig(cfg)
	m.logger.Info().
		Int("poll_interval_seconds", cfg.PollIntervalSeconds).
		Int("cooldown_minutes", cfg.CooldownMinutes).
		Msg("monitor config updated")
	return cfg, nil
}
