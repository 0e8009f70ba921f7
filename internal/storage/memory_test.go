package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-monitor/internal/monitor"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newAlert(symbol string, side monitor.Side, price string, at time.Time) monitor.Alert {
	return monitor.NewAlert(monitor.Signal{
		Symbol: symbol,
		Side:   side,
		Price:  decimal.RequireFromString(price),
	}, at)
}

func TestMemoryStoreConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	stored, err := store.InsertAlert(ctx, newAlert("BTC/USDT", monitor.SideBuy, "100", base))
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Version)

	next := stored
	next.CyclesWithoutImprovement = 2
	updated, err := store.UpdateAlert(ctx, next, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// stale version
	_, err = store.UpdateAlert(ctx, next, 1)
	assert.ErrorIs(t, err, monitor.ErrConcurrencyConflict)

	cancelled, _, err := monitor.CancelCommand{}.Apply(updated, base.Add(time.Minute))
	require.NoError(t, err)
	_, err = store.UpdateAlert(ctx, cancelled, 2)
	require.NoError(t, err)

	// terminal alerts are never rewritten
	again := cancelled
	again.State = monitor.StateMonitoring
	_, err = store.UpdateAlert(ctx, again, 3)
	assert.ErrorIs(t, err, monitor.ErrConcurrencyConflict)
}

func TestMemoryStoreFindActiveAndSupersede(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.InsertAlert(ctx, newAlert("ETH/USDT", monitor.SideSell, "2500", base))
	require.NoError(t, err)

	active, found, err := store.FindActive(ctx, "ETH/USDT", monitor.SideSell)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.ID, active.ID)

	_, found, err = store.FindActive(ctx, "ETH/USDT", monitor.SideBuy)
	require.NoError(t, err)
	assert.False(t, found)

	closed, _, err := monitor.CancelCommand{Reason: monitor.ExitReplaced}.Apply(first, base.Add(time.Minute))
	require.NoError(t, err)
	successor := newAlert("ETH/USDT", monitor.SideSell, "2490", base.Add(time.Minute))
	_, err = store.SupersedeAlert(ctx, closed, first.Version, successor)
	require.NoError(t, err)

	active, found, err = store.FindActive(ctx, "ETH/USDT", monitor.SideSell)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, successor.ID, active.ID)

	old, err := store.GetAlert(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.ExitReplaced, old.ExitReason)

	// a failed close leaves no orphan successor behind
	_, err = store.SupersedeAlert(ctx, closed, first.Version, newAlert("ETH/USDT", monitor.SideSell, "2480", base))
	assert.ErrorIs(t, err, monitor.ErrConcurrencyConflict)
	all, err := store.ListHistory(ctx, monitor.HistoryFilter{Symbol: "ETH/USDT"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStoreRejectsSecondActiveAlert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.InsertAlert(ctx, newAlert("BTC/USDT", monitor.SideBuy, "100", base))
	require.NoError(t, err)

	_, err = store.InsertAlert(ctx, newAlert("BTC/USDT", monitor.SideBuy, "99", base.Add(time.Second)))
	assert.ErrorIs(t, err, monitor.ErrConcurrencyConflict)

	// the opposite side and terminal records are unaffected
	_, err = store.InsertAlert(ctx, newAlert("BTC/USDT", monitor.SideSell, "100", base))
	require.NoError(t, err)
	sig := monitor.Signal{Symbol: "BTC/USDT", Side: monitor.SideBuy, Price: decimal.NewFromInt(98)}
	_, err = store.InsertAlert(ctx, monitor.NewCooldownRecord(sig, base, base.Add(time.Minute)))
	require.NoError(t, err)

	closed, _, err := monitor.CancelCommand{}.Apply(first, base.Add(time.Minute))
	require.NoError(t, err)
	_, err = store.UpdateAlert(ctx, closed, first.Version)
	require.NoError(t, err)
	_, err = store.InsertAlert(ctx, newAlert("BTC/USDT", monitor.SideBuy, "97", base.Add(2*time.Minute)))
	assert.NoError(t, err)
}

func TestMemoryStoreLastTerminalIgnoresCooldownRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, found, err := store.LastTerminalAt(ctx, "BTC/USDT", monitor.SideBuy)
	require.NoError(t, err)
	assert.False(t, found)

	a, err := store.InsertAlert(ctx, newAlert("BTC/USDT", monitor.SideBuy, "100", base))
	require.NoError(t, err)
	closedAt := base.Add(10 * time.Minute)
	closed, _, err := monitor.CancelCommand{}.Apply(a, closedAt)
	require.NoError(t, err)
	_, err = store.UpdateAlert(ctx, closed, a.Version)
	require.NoError(t, err)

	sig := monitor.Signal{Symbol: "BTC/USDT", Side: monitor.SideBuy, Price: decimal.NewFromInt(99)}
	_, err = store.InsertAlert(ctx, monitor.NewCooldownRecord(sig, base.Add(12*time.Minute), base.Add(15*time.Minute)))
	require.NoError(t, err)

	last, found, err := store.LastTerminalAt(ctx, "BTC/USDT", monitor.SideBuy)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, last.Equal(closedAt))
}

func TestMemoryStoreHistoryAndDispatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	pairs := []struct {
		symbol string
		side   monitor.Side
	}{
		{"BTC/USDT", monitor.SideBuy},
		{"ETH/USDT", monitor.SideBuy},
		{"BTC/USDT", monitor.SideSell},
	}
	for i, pair := range pairs {
		_, err := store.InsertAlert(ctx, newAlert(pair.symbol, pair.side, "100", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	history, err := store.ListHistory(ctx, monitor.HistoryFilter{Symbol: "BTC/USDT"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt))

	limited, err := store.ListHistory(ctx, monitor.HistoryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)

	executed := active[0]
	executed.State = monitor.StateExecuted
	executed.ExitReason = monitor.ExitExecuted
	executed = monitor.Finalize(executed, base.Add(5*time.Minute))
	_, err = store.UpdateAlert(ctx, executed, 1)
	require.NoError(t, err)

	pending, err := store.ListUndispatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, executed.ID, pending[0].ID)

	require.NoError(t, store.MarkDispatched(ctx, executed.ID, base.Add(6*time.Minute)))
	pending, err = store.ListUndispatched(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryStoreAdvisoryLock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	unlock, ok, err := store.TryAdvisoryLock(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryAdvisoryLock(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	unlock2, ok, err := store.TryAdvisoryLock(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	unlock2()
}

func TestMemoryStoreConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, found, err := store.LoadConfig(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	cfg := monitor.DefaultConfig()
	cfg.CooldownMinutes = 9
	require.NoError(t, store.SaveConfig(ctx, cfg))

	loaded, found, err := store.LoadConfig(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 9, loaded.CooldownMinutes)
}
