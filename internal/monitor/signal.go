package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Signal is an incoming webhook trade signal handed over by the ingress layer.
type Signal struct {
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	WebhookSourceID string          `json:"webhook_source_id"`
	Strategy        string          `json:"strategy"`
	Comment         string          `json:"comment"`
	// Supersede closes the active alert of the pair and starts a new lineage
	// instead of competing on price.
	Supersede bool `json:"supersede"`
}

// Normalize validates the signal and canonicalises symbol and side.
func (s Signal) Normalize() (Signal, error) {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	if s.Symbol == "" {
		return s, fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	side, err := ParseSide(string(s.Side))
	if err != nil {
		return s, err
	}
	s.Side = side
	if !s.Price.IsPositive() {
		return s, fmt.Errorf("%w: price must be greater than zero", ErrValidation)
	}
	return s, nil
}

// NewAlert starts a monitoring lineage from a signal.
func NewAlert(s Signal, now time.Time) Alert {
	return Alert{
		ID:               uuid.NewString(),
		Symbol:           s.Symbol,
		Side:             s.Side,
		State:            StateMonitoring,
		PriceAlert:       s.Price,
		PriceFirstAlert:  s.Price,
		MonitoringStatus: StatusAwaiting,
		WebhookSourceID:  s.WebhookSourceID,
		Strategy:         s.Strategy,
		Comment:          s.Comment,
		CreatedAt:        now,
	}
}

// NewCooldownRecord builds the audit record of a signal rejected during cooldown.
func NewCooldownRecord(s Signal, now time.Time, until time.Time) Alert {
	a := NewAlert(s, now)
	closeAlert(&a, ExitCooldown, fmt.Sprintf("pair in cooldown until %s", until.UTC().Format(time.RFC3339)))
	return Finalize(a, now)
}
