package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// Finalize stamps terminal_at and computes the outcome metrics of a terminal
// alert. It must run exactly once, on the transition into a terminal state, and
// its result is written together with that state. Non-terminal alerts are
// returned unchanged.
func Finalize(a Alert, at time.Time) Alert {
	if !a.State.Terminal() || a.TerminalAt != nil {
		return a
	}
	terminal := at
	a.TerminalAt = &terminal

	duration := decimal.NewFromFloat(at.Sub(a.CreatedAt).Seconds()).Div(sixty).Round(2)
	a.MonitoringDurationMinutes = &duration

	a.SavingsPct = nil
	a.EfficiencyPct = nil
	if a.State != StateExecuted || a.ExecutionPrice == nil {
		return a
	}

	savings := Savings(a.Side, a.PriceFirstAlert, *a.ExecutionPrice)
	if savings != nil {
		a.SavingsPct = savings
	}
	if a.BestSet {
		a.EfficiencyPct = Efficiency(a.Side, a.PriceFirstAlert, a.Best, *a.ExecutionPrice)
	}
	return a
}

// Savings is the favourable improvement of execution over the first alert price
// in percent. Positive means better than executing the signal immediately.
func Savings(side Side, first, execution decimal.Decimal) *decimal.Decimal {
	if first.IsZero() {
		return nil
	}
	v := pct(side.gain(first, execution), first).Round(4)
	return &v
}

// Efficiency is how much of the move from the first alert price to the best
// observed price was captured by the execution. Nil for a flat market.
func Efficiency(side Side, first, best, execution decimal.Decimal) *decimal.Decimal {
	spread := side.gain(first, best)
	if spread.IsZero() {
		return nil
	}
	v := side.gain(first, execution).Div(spread).Mul(hundred).Round(4)
	return &v
}
