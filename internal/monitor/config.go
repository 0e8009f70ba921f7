package monitor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the process-wide monitoring policy. A scheduler tick reads one
// snapshot and passes it by value to every evaluation of that tick.
type Config struct {
	MaxFallPct               decimal.Decimal `json:"max_fall_pct"`
	MaxRisePct               decimal.Decimal `json:"max_rise_pct"`
	MaxMonitoringMinutes     int             `json:"max_monitoring_minutes"`
	LateralCycleThreshold    int             `json:"lateral_cycle_threshold"`
	CooldownMinutes          int             `json:"cooldown_minutes"`
	PollIntervalSeconds      int             `json:"poll_interval_seconds"`
	ReversionConfirmationPct decimal.Decimal `json:"reversion_confirmation_pct"`
	NoiseBandPct             decimal.Decimal `json:"noise_band_pct"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// DefaultConfig returns the policy used when nothing has been stored yet.
func DefaultConfig() Config {
	return Config{
		MaxFallPct:               decimal.NewFromInt(10),
		MaxRisePct:               decimal.NewFromInt(10),
		MaxMonitoringMinutes:     60,
		LateralCycleThreshold:    5,
		CooldownMinutes:          5,
		PollIntervalSeconds:      30,
		ReversionConfirmationPct: decimal.NewFromInt(1),
		NoiseBandPct:             decimal.RequireFromString("0.2"),
	}
}

// Validate rejects the whole config on the first invalid value.
func (c Config) Validate() error {
	if !c.MaxFallPct.IsPositive() {
		return fmt.Errorf("%w: max_fall_pct must be greater than zero", ErrInvalidConfig)
	}
	if !c.MaxRisePct.IsPositive() {
		return fmt.Errorf("%w: max_rise_pct must be greater than zero", ErrInvalidConfig)
	}
	if c.MaxMonitoringMinutes <= 0 {
		return fmt.Errorf("%w: max_monitoring_minutes must be greater than zero", ErrInvalidConfig)
	}
	if c.LateralCycleThreshold <= 0 {
		return fmt.Errorf("%w: lateral_cycle_threshold must be greater than zero", ErrInvalidConfig)
	}
	if c.CooldownMinutes < 0 {
		return fmt.Errorf("%w: cooldown_minutes cannot be negative", ErrInvalidConfig)
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("%w: poll_interval_seconds must be greater than zero", ErrInvalidConfig)
	}
	if !c.ReversionConfirmationPct.IsPositive() {
		return fmt.Errorf("%w: reversion_confirmation_pct must be greater than zero", ErrInvalidConfig)
	}
	if c.NoiseBandPct.IsNegative() {
		return fmt.Errorf("%w: noise_band_pct cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// PollInterval converts poll_interval_seconds to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// MaxMonitoring converts max_monitoring_minutes to a duration.
func (c Config) MaxMonitoring() time.Duration {
	return time.Duration(c.MaxMonitoringMinutes) * time.Minute
}

// Cooldown converts cooldown_minutes to a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}
