package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoryFilter narrows history listings. Zero values mean "any".
type HistoryFilter struct {
	Symbol     string
	Side       Side
	State      State
	ExitReason ExitReason
	From       *time.Time
	To         *time.Time
	Limit      int
}

// DefaultHistoryLimit caps history listings without an explicit limit.
const DefaultHistoryLimit = 100

// Summary aggregates monitoring outcomes over a trailing window.
type Summary struct {
	Since              time.Time        `json:"since"`
	Monitoring         int64            `json:"monitoring"`
	Executed           int64            `json:"executed"`
	Cancelled          int64            `json:"cancelled"`
	CooldownRejected   int64            `json:"cooldown_rejected"`
	AvgSavingsPct      *decimal.Decimal `json:"avg_savings_pct"`
	AvgEfficiencyPct   *decimal.Decimal `json:"avg_efficiency_pct"`
	AvgDurationMinutes *decimal.Decimal `json:"avg_duration_minutes"`
}

// Matches reports whether a satisfies the filter, ignoring Limit.
func (f HistoryFilter) Matches(a Alert) bool {
	if f.Symbol != "" && f.Symbol != a.Symbol {
		return false
	}
	if f.Side != "" && f.Side != a.Side {
		return false
	}
	if f.State != "" && f.State != a.State {
		return false
	}
	if f.ExitReason != ExitNone && f.ExitReason != a.ExitReason {
		return false
	}
	if f.From != nil && a.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

// Summarize aggregates alerts in memory. Terminal alerts count when their
// terminal_at is at or after since; monitoring alerts always count.
func Summarize(alerts []Alert, since time.Time) Summary {
	s := Summary{Since: since}
	var savings, efficiency, duration []decimal.Decimal
	for _, a := range alerts {
		if a.State == StateMonitoring {
			s.Monitoring++
			continue
		}
		if a.TerminalAt == nil || a.TerminalAt.Before(since) {
			continue
		}
		if a.ExitReason == ExitCooldown {
			s.CooldownRejected++
			continue
		}
		if a.State == StateExecuted {
			s.Executed++
		} else {
			s.Cancelled++
		}
		if a.SavingsPct != nil {
			savings = append(savings, *a.SavingsPct)
		}
		if a.EfficiencyPct != nil {
			efficiency = append(efficiency, *a.EfficiencyPct)
		}
		if a.MonitoringDurationMinutes != nil {
			duration = append(duration, *a.MonitoringDurationMinutes)
		}
	}
	s.AvgSavingsPct = average(savings)
	s.AvgEfficiencyPct = average(efficiency)
	s.AvgDurationMinutes = average(duration)
	return s
}

func average(values []decimal.Decimal) *decimal.Decimal {
	if len(values) == 0 {
		return nil
	}
	avg := decimal.Avg(values[0], values[1:]...).Round(4)
	return &avg
}
