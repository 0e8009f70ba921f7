package monitor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Quote is the outcome of one price lookup for a symbol.
type Quote struct {
	Price decimal.Decimal
	Err   error
}

// Available reports whether the quote carries a usable price.
func (q Quote) Available() bool {
	return q.Err == nil && q.Price.IsPositive()
}

// PriceQuote wraps a price observed by the feed.
func PriceQuote(price decimal.Decimal) Quote {
	return Quote{Price: price}
}

// GapQuote wraps a feed failure.
func GapQuote(err error) Quote {
	if err == nil {
		err = ErrFeedUnavailable
	}
	return Quote{Err: err}
}

// Decision is the result of evaluating one cycle for one alert.
type Decision struct {
	Alert   Alert
	Changed bool
}

// Terminal reports whether the decision closes the alert.
func (d Decision) Terminal() bool {
	return d.Alert.State.Terminal()
}

// Evaluate computes the next state of alert for the given quote. It performs no
// I/O and never mutates its input. Terminal alerts, duplicate cycles (now not
// after the last evaluated cycle) and feed gaps leave the alert untouched, except
// that the wall-clock MAX_TIME exit still applies during a gap.
func Evaluate(alert Alert, quote Quote, cfg Config, now time.Time) Decision {
	if alert.State.Terminal() {
		return Decision{Alert: alert}
	}
	if alert.LastCycleAt != nil && !now.After(*alert.LastCycleAt) {
		return Decision{Alert: alert}
	}

	if !quote.Available() {
		if expired(alert, cfg, now) {
			next := alert
			closeAlert(&next, ExitMaxTime, fmt.Sprintf("monitoring exceeded %d minutes while price feed unavailable", cfg.MaxMonitoringMinutes))
			return Decision{Alert: next, Changed: true}
		}
		return Decision{Alert: alert}
	}

	price := quote.Price
	next := alert
	firstCycle := alert.LastCycleAt == nil
	cycleAt := now
	next.LastCycleAt = &cycleAt
	next.CurrentPrice = price

	reference := alert.Reference()
	next.PriceVariationPct = pct(price.Sub(reference), reference)

	if !next.BestSet {
		next.Best = next.PriceAlert
		next.BestSet = true
	}
	improved := next.Side.Better(price, next.Best)
	if improved {
		next.Best = price
		next.CyclesWithoutImprovement = 0
	} else {
		next.CyclesWithoutImprovement++
	}
	next.MonitoringStatus = classify(next, price, improved, firstCycle, cfg)

	switch {
	case expired(next, cfg, now):
		closeAlert(&next, ExitMaxTime, fmt.Sprintf("monitoring exceeded %d minutes", cfg.MaxMonitoringMinutes))
	case adverseExit(next, price, cfg) != ExitNone:
		reason := adverseExit(next, price, cfg)
		closeAlert(&next, reason, fmt.Sprintf("price %s moved %s%% against first alert price %s",
			price.String(), pct(price.Sub(next.PriceFirstAlert), next.PriceFirstAlert).Abs().StringFixed(2), next.PriceFirstAlert.String()))
	case reverted(next, price, cfg):
		execution := price
		next.ExecutionPrice = &execution
		closeAlert(&next, ExitExecuted, fmt.Sprintf("rebound of %s%% from extremum %s confirmed",
			rebound(next, price).StringFixed(2), next.Best.String()))
	}

	return Decision{Alert: next, Changed: true}
}

func expired(a Alert, cfg Config, now time.Time) bool {
	return now.Sub(a.CreatedAt) >= cfg.MaxMonitoring()
}

// adverseExit guards against a move beyond the configured maximum measured from
// the first alert price: a BUY is abandoned when the price keeps falling, a SELL
// when it keeps rising.
func adverseExit(a Alert, price decimal.Decimal, cfg Config) ExitReason {
	if a.PriceFirstAlert.IsZero() {
		return ExitNone
	}
	if a.Side == SideSell {
		rise := pct(price.Sub(a.PriceFirstAlert), a.PriceFirstAlert)
		if rise.GreaterThan(cfg.MaxRisePct) {
			return ExitMaxRise
		}
		return ExitNone
	}
	fall := pct(a.PriceFirstAlert.Sub(price), a.PriceFirstAlert)
	if fall.GreaterThan(cfg.MaxFallPct) {
		return ExitMaxFall
	}
	return ExitNone
}

// rebound is how far price has moved back from the extremum, in percent of the
// extremum. Zero while the extremum is being improved.
func rebound(a Alert, price decimal.Decimal) decimal.Decimal {
	return pct(a.Side.gain(price, a.Best), a.Best)
}

// reverted confirms a local bottom (BUY) or top (SELL): the extremum has moved
// strictly past price_alert and the price has since rebounded by at least the
// confirmation threshold. A replacement moves price_alert, so it re-arms this
// check until the market improves past the new target.
func reverted(a Alert, price decimal.Decimal, cfg Config) bool {
	if !a.BestSet || !a.Side.Better(a.Best, a.PriceAlert) {
		return false
	}
	return rebound(a, price).GreaterThanOrEqual(cfg.ReversionConfirmationPct)
}

func classify(a Alert, price decimal.Decimal, improved, firstCycle bool, cfg Config) Status {
	switch {
	case improved:
		return favourableStatus(a.Side)
	case a.CyclesWithoutImprovement >= cfg.LateralCycleThreshold:
		if rebound(a, price).GreaterThan(cfg.NoiseBandPct) {
			return adverseStatus(a.Side)
		}
		return StatusLateral
	case firstCycle || a.MonitoringStatus == "":
		return StatusAwaiting
	default:
		return a.MonitoringStatus
	}
}

func favourableStatus(side Side) Status {
	if side == SideSell {
		return StatusRising
	}
	return StatusFalling
}

func adverseStatus(side Side) Status {
	if side == SideSell {
		return StatusFalling
	}
	return StatusRising
}

func closeAlert(a *Alert, reason ExitReason, details string) {
	if reason == ExitExecuted {
		a.State = StateExecuted
	} else {
		a.State = StateCancelled
	}
	a.ExitReason = reason
	a.ExitDetails = details
}

func pct(delta, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return delta.Div(base).Mul(hundred)
}
