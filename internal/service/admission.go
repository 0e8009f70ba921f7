package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webhook-monitor/internal/monitor"
)

// Outcome names the result of admitting a signal.
type Outcome string

const (
	OutcomeCreated           Outcome = "CREATED"
	OutcomeReplaced          Outcome = "REPLACED"
	OutcomeRejectedNotBetter Outcome = "REJECTED_NOT_BETTER"
	OutcomeCooldown          Outcome = "COOLDOWN"
	OutcomeSuperseded        Outcome = "SUPERSEDED"
)

// Admission reports what happened to an incoming signal. Alert is the alert
// that now represents the pair: the new or updated one, the untouched active
// one on rejection, or the audit record on cooldown.
type Admission struct {
	Outcome       Outcome        `json:"outcome"`
	Alert         monitor.Alert  `json:"alert"`
	Previous      *monitor.Alert `json:"previous,omitempty"`
	CooldownUntil *time.Time     `json:"cooldown_until,omitempty"`
}

const admitAttempts = 3

// Create is the ingress entry point: it validates the signal and resolves it
// against the pair's active alert and cooldown.
func (m *Monitor) Create(ctx context.Context, sig monitor.Signal) (Admission, error) {
	return m.Admit(ctx, sig)
}

// Admit resolves an incoming signal under the pair lock. A conditional write,
// or an insert hitting the one-active-alert index, that loses against a
// concurrent writer in another process is retried on the fresh state.
func (m *Monitor) Admit(ctx context.Context, sig monitor.Signal) (Admission, error) {
	sig, err := sig.Normalize()
	if err != nil {
		return Admission{}, err
	}

	unlock := m.pairs.Lock(monitor.PairKey(sig.Symbol, sig.Side))
	defer unlock()

	for attempt := 1; ; attempt++ {
		admission, err := m.admitOnce(ctx, sig)
		if errors.Is(err, monitor.ErrConcurrencyConflict) && attempt < admitAttempts {
			m.logger.Debug().Err(err).Str("symbol", sig.Symbol).Int("attempt", attempt).Msg("admission lost a race, retrying")
			continue
		}
		if err != nil {
			return Admission{}, err
		}
		m.logAdmission(sig, admission)
		if admission.Previous != nil {
			m.notify(ctx, *admission.Previous, m.now())
		}
		return admission, nil
	}
}

func (m *Monitor) admitOnce(ctx context.Context, sig monitor.Signal) (Admission, error) {
	now := m.now()
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	active, found, err := m.store.FindActive(sctx, sig.Symbol, sig.Side)
	if err != nil {
		return Admission{}, fmt.Errorf("find active alert: %w", err)
	}

	if found {
		if sig.Supersede {
			return m.supersede(sctx, active, sig, now)
		}
		next, changed, err := monitor.ReplaceCommand{Price: sig.Price, WebhookSourceID: sig.WebhookSourceID}.Apply(active, now)
		if err != nil {
			return Admission{}, err
		}
		if !changed {
			return Admission{Outcome: OutcomeRejectedNotBetter, Alert: active}, nil
		}
		stored, err := m.store.UpdateAlert(sctx, next, active.Version)
		if err != nil {
			return Admission{}, err
		}
		return Admission{Outcome: OutcomeReplaced, Alert: stored}, nil
	}

	cfg := m.snapshot()
	if cfg.CooldownMinutes > 0 {
		last, ok, err := m.store.LastTerminalAt(sctx, sig.Symbol, sig.Side)
		if err != nil {
			return Admission{}, fmt.Errorf("lookup cooldown: %w", err)
		}
		if until := last.Add(cfg.Cooldown()); ok && now.Before(until) {
			stored, err := m.store.InsertAlert(sctx, monitor.NewCooldownRecord(sig, now, until))
			if err != nil {
				return Admission{}, fmt.Errorf("record cooldown rejection: %w", err)
			}
			return Admission{Outcome: OutcomeCooldown, Alert: stored, CooldownUntil: &until}, nil
		}
	}

	stored, err := m.store.InsertAlert(sctx, monitor.NewAlert(sig, now))
	if err != nil {
		return Admission{}, err
	}
	return Admission{Outcome: OutcomeCreated, Alert: stored}, nil
}

func (m *Monitor) supersede(ctx context.Context, active monitor.Alert, sig monitor.Signal, now time.Time) (Admission, error) {
	closed, _, err := monitor.CancelCommand{
		Reason:  monitor.ExitReplaced,
		Details: fmt.Sprintf("superseded by %s signal at %s", sig.Side, sig.Price.String()),
	}.Apply(active, now)
	if err != nil {
		return Admission{}, err
	}
	stored, err := m.store.SupersedeAlert(ctx, closed, active.Version, monitor.NewAlert(sig, now))
	if err != nil {
		return Admission{}, err
	}
	closed.Version = active.Version + 1
	return Admission{Outcome: OutcomeSuperseded, Alert: stored, Previous: &closed}, nil
}

func (m *Monitor) logAdmission(sig monitor.Signal, a Admission) {
	m.logger.Info().
		Str("alert_id", a.Alert.ID).
		Str("symbol", sig.Symbol).
		Str("side", string(sig.Side)).
		Str("price", sig.Price.String()).
		Str("outcome", string(a.Outcome)).
		Msg("signal admitted")
}
