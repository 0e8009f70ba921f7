package monitor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Command is a state transition applied to the latest persisted snapshot of an
// alert. Every writer (scheduler cycles, replacements, operator cancels) goes
// through the same conditional-update path with a Command.
type Command interface {
	Apply(current Alert, now time.Time) (next Alert, changed bool, err error)
}

// CycleCommand applies one scheduler evaluation.
type CycleCommand struct {
	Quote  Quote
	Config Config
}

// Apply evaluates the quote against the current snapshot.
func (c CycleCommand) Apply(current Alert, now time.Time) (Alert, bool, error) {
	if current.State.Terminal() {
		return current, false, fmt.Errorf("%w: alert %s is %s", ErrConcurrencyConflict, current.ID, current.State)
	}
	d := Evaluate(current, c.Quote, c.Config, now)
	if !d.Changed {
		return current, false, nil
	}
	return Finalize(d.Alert, now), true, nil
}

// ReplaceCommand moves the target price of an active alert to a strictly better
// incoming signal. Lineage (price_first_alert) and progress (extremum, cycle
// counter, status) are left untouched.
//
// The signal must beat the reference price (the extremum once set) and must
// never move price_alert to a worse level.
type ReplaceCommand struct {
	Price           decimal.Decimal
	WebhookSourceID string
}

// Apply replaces price_alert when the new price is strictly better.
func (c ReplaceCommand) Apply(current Alert, _ time.Time) (Alert, bool, error) {
	if current.State.Terminal() {
		return current, false, fmt.Errorf("%w: alert %s is %s", ErrConcurrencyConflict, current.ID, current.State)
	}
	bar := current.Reference()
	if current.Side.Better(current.PriceAlert, bar) {
		bar = current.PriceAlert
	}
	if !current.Side.Better(c.Price, bar) {
		return current, false, nil
	}
	next := current
	next.PriceAlert = c.Price
	next.ReplacementCount++
	if c.WebhookSourceID != "" {
		next.WebhookSourceID = c.WebhookSourceID
	}
	return next, true, nil
}

// CancelCommand closes an active alert without execution.
type CancelCommand struct {
	Reason  ExitReason
	Details string
	Note    string
}

// Apply fails with ErrConflict when the alert is already terminal.
func (c CancelCommand) Apply(current Alert, now time.Time) (Alert, bool, error) {
	if current.State.Terminal() {
		return current, false, fmt.Errorf("%w: alert %s is %s", ErrConflict, current.ID, current.State)
	}
	reason := c.Reason
	if reason == ExitNone || reason == ExitExecuted {
		reason = ExitCancelled
	}
	next := current
	closeAlert(&next, reason, c.Details)
	next.CancelReason = c.Note
	return Finalize(next, now), true, nil
}
