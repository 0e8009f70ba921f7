package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"webhook-monitor/internal/monitor"
)

// MemoryStore is an in-process MonitorStore used by the simulator and tests.
// It enforces the same version and state guards as the PostgreSQL store.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]monitor.Alert
	order  []string
	config *monitor.Config
	locks  map[int64]bool
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]monitor.Alert),
		locks:  make(map[int64]bool),
	}
}

// TryAdvisoryLock emulates a session advisory lock within the process.
func (m *MemoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, key)
		m.mu.Unlock()
	}, true, nil
}

func (m *MemoryStore) InsertAlert(_ context.Context, alert monitor.Alert) (monitor.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(alert)
}

func (m *MemoryStore) insertLocked(alert monitor.Alert) (monitor.Alert, error) {
	if _, exists := m.alerts[alert.ID]; exists {
		return monitor.Alert{}, fmt.Errorf("insert alert: duplicate id %s", alert.ID)
	}
	// mirrors the monitor_alerts_one_active index
	if alert.State == monitor.StateMonitoring {
		for _, existing := range m.alerts {
			if existing.Symbol == alert.Symbol && existing.Side == alert.Side && existing.State == monitor.StateMonitoring {
				return monitor.Alert{}, fmt.Errorf("%w: %s %s already has active alert %s",
					monitor.ErrConcurrencyConflict, alert.Symbol, alert.Side, existing.ID)
			}
		}
	}
	alert.Version = 1
	m.alerts[alert.ID] = alert
	m.order = append(m.order, alert.ID)
	return alert, nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id string) (monitor.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return monitor.Alert{}, fmt.Errorf("%w: %s", monitor.ErrNotFound, id)
	}
	return alert, nil
}

func (m *MemoryStore) FindActive(_ context.Context, symbol string, side monitor.Side) (monitor.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.alerts[m.order[i]]
		if a.Symbol == symbol && a.Side == side && a.State == monitor.StateMonitoring {
			return a, true, nil
		}
	}
	return monitor.Alert{}, false, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]monitor.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]monitor.Alert, 0)
	for _, id := range m.order {
		if a := m.alerts[id]; a.State == monitor.StateMonitoring {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateAlert(_ context.Context, alert monitor.Alert, expectedVersion int64) (monitor.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(alert, expectedVersion)
}

func (m *MemoryStore) updateLocked(alert monitor.Alert, expectedVersion int64) (monitor.Alert, error) {
	stored, ok := m.alerts[alert.ID]
	if !ok || stored.Version != expectedVersion || stored.State != monitor.StateMonitoring {
		return monitor.Alert{}, fmt.Errorf("%w: alert %s version %d", monitor.ErrConcurrencyConflict, alert.ID, expectedVersion)
	}
	// immutable columns stay as stored
	alert.Symbol = stored.Symbol
	alert.Side = stored.Side
	alert.PriceFirstAlert = stored.PriceFirstAlert
	alert.CreatedAt = stored.CreatedAt
	alert.DispatchedAt = stored.DispatchedAt
	alert.Version = expectedVersion + 1
	m.alerts[alert.ID] = alert
	return alert, nil
}

func (m *MemoryStore) SupersedeAlert(_ context.Context, closed monitor.Alert, expectedVersion int64, replacement monitor.Alert) (monitor.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.alerts[replacement.ID]; exists {
		return monitor.Alert{}, fmt.Errorf("insert alert: duplicate id %s", replacement.ID)
	}
	if _, err := m.updateLocked(closed, expectedVersion); err != nil {
		return monitor.Alert{}, err
	}
	return m.insertLocked(replacement)
}

func (m *MemoryStore) LastTerminalAt(_ context.Context, symbol string, side monitor.Side) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		last  time.Time
		found bool
	)
	for _, a := range m.alerts {
		if a.Symbol != symbol || a.Side != side || !a.State.Terminal() || a.TerminalAt == nil {
			continue
		}
		if a.ExitReason == monitor.ExitCooldown {
			continue
		}
		if !found || a.TerminalAt.After(last) {
			last, found = *a.TerminalAt, true
		}
	}
	return last, found, nil
}

func (m *MemoryStore) ListHistory(_ context.Context, filter monitor.HistoryFilter) ([]monitor.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]monitor.Alert, 0)
	for _, a := range m.alerts {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = monitor.DefaultHistoryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Summarize(_ context.Context, since time.Time) (monitor.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]monitor.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		all = append(all, a)
	}
	return monitor.Summarize(all, since), nil
}

func (m *MemoryStore) ListUndispatched(_ context.Context, limit int) ([]monitor.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]monitor.Alert, 0)
	for _, id := range m.order {
		a := m.alerts[id]
		if a.State == monitor.StateExecuted && a.DispatchedAt == nil {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TerminalAt.Before(*out[j].TerminalAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkDispatched(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("%w: %s", monitor.ErrNotFound, id)
	}
	if a.DispatchedAt == nil {
		a.DispatchedAt = &at
		m.alerts[id] = a
	}
	return nil
}

func (m *MemoryStore) LoadConfig(_ context.Context) (monitor.Config, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return monitor.Config{}, false, nil
	}
	return *m.config, true, nil
}

func (m *MemoryStore) SaveConfig(_ context.Context, cfg monitor.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = &cfg
	return nil
}

var (
	_ MonitorStore   = (*MemoryStore)(nil)
	_ AdvisoryLocker = (*MemoryStore)(nil)
)
