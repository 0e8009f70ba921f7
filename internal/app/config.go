package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
)

// ShowConfig prints the stored monitoring policy as JSON.
func (a *App) ShowConfig(ctx context.Context) error {
	gw, closeStore, err := a.openGateway(ctx, "show config")
	if err != nil {
		return err
	}
	defer closeStore()

	cfg, err := gw.Config(ctx)
	if err != nil {
		return err
	}
	return writeJSON(a, cfg)
}

// SetConfig applies key=value overrides to the stored policy. The resulting
// policy is validated as a whole before it is stored.
func (a *App) SetConfig(ctx context.Context, assignments []string) error {
	if len(assignments) == 0 {
		return fmt.Errorf("%w: at least one key=value assignment is required", monitor.ErrInvalidConfig)
	}

	gw, closeStore, err := a.openGateway(ctx, "update config")
	if err != nil {
		return err
	}
	defer closeStore()

	cfg, err := gw.Config(ctx)
	if err != nil {
		return err
	}
	for _, assignment := range assignments {
		key, value, ok := strings.Cut(assignment, "=")
		if !ok {
			return fmt.Errorf("%w: expected key=value, got %q", monitor.ErrInvalidConfig, assignment)
		}
		if err := applyConfigValue(&cfg, strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return err
		}
	}

	updated, err := gw.UpdateConfig(ctx, cfg)
	if err != nil {
		return err
	}
	return writeJSON(a, updated)
}

var decimalKeys = map[string]func(*monitor.Config) *decimal.Decimal{
	"max_fall_pct":               func(c *monitor.Config) *decimal.Decimal { return &c.MaxFallPct },
	"max_rise_pct":               func(c *monitor.Config) *decimal.Decimal { return &c.MaxRisePct },
	"reversion_confirmation_pct": func(c *monitor.Config) *decimal.Decimal { return &c.ReversionConfirmationPct },
	"noise_band_pct":             func(c *monitor.Config) *decimal.Decimal { return &c.NoiseBandPct },
}

var intKeys = map[string]func(*monitor.Config) *int{
	"max_monitoring_minutes":  func(c *monitor.Config) *int { return &c.MaxMonitoringMinutes },
	"lateral_cycle_threshold": func(c *monitor.Config) *int { return &c.LateralCycleThreshold },
	"cooldown_minutes":        func(c *monitor.Config) *int { return &c.CooldownMinutes },
	"poll_interval_seconds":   func(c *monitor.Config) *int { return &c.PollIntervalSeconds },
}

func applyConfigValue(cfg *monitor.Config, key, value string) error {
	if field, ok := decimalKeys[key]; ok {
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be a decimal: %v", monitor.ErrInvalidConfig, key, err)
		}
		*field(cfg) = parsed
		return nil
	}
	if field, ok := intKeys[key]; ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer: %v", monitor.ErrInvalidConfig, key, err)
		}
		*field(cfg) = parsed
		return nil
	}
	return fmt.Errorf("%w: unknown key %q (known: %s)", monitor.ErrInvalidConfig, key, strings.Join(configKeys(), ", "))
}

func configKeys() []string {
	keys := make([]string, 0, len(decimalKeys)+len(intKeys))
	for k := range decimalKeys {
		keys = append(keys, k)
	}
	for k := range intKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(a *App, v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
