package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the trade direction of a signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalises user input into a Side.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case string(SideBuy):
		return SideBuy, nil
	case string(SideSell):
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrValidation, v)
	}
}

// Better reports whether candidate is a strictly more favourable entry than ref.
func (s Side) Better(candidate, ref decimal.Decimal) bool {
	if s == SideSell {
		return candidate.GreaterThan(ref)
	}
	return candidate.LessThan(ref)
}

// gain is the favourable move from ref to price, positive when price is better.
func (s Side) gain(ref, price decimal.Decimal) decimal.Decimal {
	if s == SideSell {
		return price.Sub(ref)
	}
	return ref.Sub(price)
}

// State is the lifecycle state of an alert.
type State string

const (
	StateMonitoring State = "MONITORING"
	StateExecuted   State = "EXECUTED"
	StateCancelled  State = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateExecuted || s == StateCancelled
}

// ExitReason explains a terminal transition.
type ExitReason string

const (
	ExitNone      ExitReason = ""
	ExitExecuted  ExitReason = "EXECUTED"
	ExitMaxFall   ExitReason = "MAX_FALL"
	ExitMaxRise   ExitReason = "MAX_RISE"
	ExitMaxTime   ExitReason = "MAX_TIME"
	ExitReplaced  ExitReason = "REPLACED"
	ExitCooldown  ExitReason = "COOLDOWN"
	ExitCancelled ExitReason = "CANCELLED"
)

// Status classifies recent price behaviour of a monitored alert.
type Status string

const (
	StatusAwaiting Status = "AWAITING"
	StatusFalling  Status = "FALLING"
	StatusLateral  Status = "LATERAL"
	StatusRising   Status = "RISING"
)

// Alert is one deferred-execution monitoring record.
//
// Best and CyclesWithoutImprovement hold the side-independent extremum; they are
// exposed as price_minimum/cycles_without_new_low for BUY and
// price_maximum/cycles_without_new_high for SELL when serialised.
type Alert struct {
	ID     string
	Symbol string
	Side   Side
	State  State

	PriceAlert       decimal.Decimal
	PriceFirstAlert  decimal.Decimal
	ReplacementCount int

	Best                     decimal.Decimal
	BestSet                  bool
	CyclesWithoutImprovement int
	CurrentPrice             decimal.Decimal
	PriceVariationPct        decimal.Decimal
	MonitoringStatus         Status

	ExitReason     ExitReason
	ExitDetails    string
	CancelReason   string
	ExecutionPrice *decimal.Decimal

	SavingsPct                *decimal.Decimal
	EfficiencyPct             *decimal.Decimal
	MonitoringDurationMinutes *decimal.Decimal

	WebhookSourceID string
	Strategy        string
	Comment         string

	Version      int64
	CreatedAt    time.Time
	LastCycleAt  *time.Time
	TerminalAt   *time.Time
	DispatchedAt *time.Time
}

// PairKey identifies the (symbol, side) monitoring slot.
func (a Alert) PairKey() string {
	return PairKey(a.Symbol, a.Side)
}

// PairKey builds the key used for per-pair serialisation.
func PairKey(symbol string, side Side) string {
	return strings.ToUpper(symbol) + "|" + string(side)
}

// Reference returns the price the next cycle compares against.
func (a Alert) Reference() decimal.Decimal {
	if a.BestSet {
		return a.Best
	}
	return a.PriceAlert
}

type alertJSON struct {
	ID                        string           `json:"id"`
	Symbol                    string           `json:"symbol"`
	Side                      Side             `json:"side"`
	State                     State            `json:"state"`
	PriceAlert                decimal.Decimal  `json:"price_alert"`
	PriceFirstAlert           decimal.Decimal  `json:"price_first_alert"`
	ReplacementCount          int              `json:"replacement_count"`
	PriceMinimum              *decimal.Decimal `json:"price_minimum,omitempty"`
	PriceMaximum              *decimal.Decimal `json:"price_maximum,omitempty"`
	CyclesWithoutNewLow       *int             `json:"cycles_without_new_low,omitempty"`
	CyclesWithoutNewHigh      *int             `json:"cycles_without_new_high,omitempty"`
	CurrentPrice              *decimal.Decimal `json:"current_price,omitempty"`
	PriceVariationPct         decimal.Decimal  `json:"price_variation_pct"`
	MonitoringStatus          Status           `json:"monitoring_status"`
	ExitReason                *ExitReason      `json:"exit_reason"`
	ExitDetails               string           `json:"exit_details,omitempty"`
	CancelReason              string           `json:"cancel_reason,omitempty"`
	ExecutionPrice            *decimal.Decimal `json:"execution_price"`
	SavingsPct                *decimal.Decimal `json:"savings_pct"`
	EfficiencyPct             *decimal.Decimal `json:"efficiency_pct"`
	MonitoringDurationMinutes *decimal.Decimal `json:"monitoring_duration_minutes"`
	WebhookSourceID           string           `json:"webhook_source_id,omitempty"`
	Strategy                  string           `json:"strategy,omitempty"`
	Comment                   string           `json:"comment,omitempty"`
	Version                   int64            `json:"version"`
	CreatedAt                 time.Time        `json:"created_at"`
	TerminalAt                *time.Time       `json:"terminal_at"`
}

// MarshalJSON renders the side-specific field names.
func (a Alert) MarshalJSON() ([]byte, error) {
	out := alertJSON{
		ID:                        a.ID,
		Symbol:                    a.Symbol,
		Side:                      a.Side,
		State:                     a.State,
		PriceAlert:                a.PriceAlert,
		PriceFirstAlert:           a.PriceFirstAlert,
		ReplacementCount:          a.ReplacementCount,
		PriceVariationPct:         a.PriceVariationPct,
		MonitoringStatus:          a.MonitoringStatus,
		ExitDetails:               a.ExitDetails,
		CancelReason:              a.CancelReason,
		ExecutionPrice:            a.ExecutionPrice,
		SavingsPct:                a.SavingsPct,
		EfficiencyPct:             a.EfficiencyPct,
		MonitoringDurationMinutes: a.MonitoringDurationMinutes,
		WebhookSourceID:           a.WebhookSourceID,
		Strategy:                  a.Strategy,
		Comment:                   a.Comment,
		Version:                   a.Version,
		CreatedAt:                 a.CreatedAt,
		TerminalAt:                a.TerminalAt,
	}
	if a.ExitReason != ExitNone {
		reason := a.ExitReason
		out.ExitReason = &reason
	}
	if !a.CurrentPrice.IsZero() {
		price := a.CurrentPrice
		out.CurrentPrice = &price
	}
	cycles := a.CyclesWithoutImprovement
	var best *decimal.Decimal
	if a.BestSet {
		v := a.Best
		best = &v
	}
	if a.Side == SideSell {
		out.PriceMaximum = best
		out.CyclesWithoutNewHigh = &cycles
	} else {
		out.PriceMinimum = best
		out.CyclesWithoutNewLow = &cycles
	}
	return json.Marshal(out)
}
