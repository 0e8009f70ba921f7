package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-monitor/internal/alerting"
	"webhook-monitor/internal/monitor"
	"webhook-monitor/internal/pricefeed"
	"webhook-monitor/internal/storage"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingExecutor struct {
	mu       sync.Mutex
	failures int
	received []monitor.Alert
}

func (e *recordingExecutor) OnAlertExecuted(_ context.Context, a monitor.Alert) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures > 0 {
		e.failures--
		return errors.New("execution endpoint unavailable")
	}
	e.received = append(e.received, a)
	return nil
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.received)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	panic bool
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	if n.panic {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

type harness struct {
	monitor  *Monitor
	store    *storage.MemoryStore
	feed     *pricefeed.StaticFeed
	executor *recordingExecutor
	notifier *recordingNotifier
	clock    *testClock
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:    storage.NewMemoryStore(),
		feed:     pricefeed.NewStaticFeed(),
		executor: &recordingExecutor{},
		notifier: &recordingNotifier{},
		clock:    &testClock{now: t0},
	}
	opts := Options{
		Store:    h.store,
		Feed:     h.feed,
		Executor: h.executor,
		Notifier: h.notifier,
		Seed:     monitor.DefaultConfig(),
		Workers:  4,
		Now:      h.clock.Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.monitor = New(opts, zerolog.Nop())
	require.NoError(t, h.monitor.Init(context.Background()))
	return h
}

// tick publishes prices and runs one cycle at minute offset.
func (h *harness) tick(t *testing.T, minute int, prices map[string]string) {
	t.Helper()
	for symbol, price := range prices {
		h.feed.Set(symbol, dec(price))
	}
	at := t0.Add(time.Duration(minute) * time.Minute)
	h.clock.Set(at)
	require.NoError(t, h.monitor.ProcessTick(context.Background(), at))
}

func (h *harness) admit(t *testing.T, symbol string, side monitor.Side, price string) Admission {
	t.Helper()
	a, err := h.monitor.Admit(context.Background(), monitor.Signal{Symbol: symbol, Side: side, Price: dec(price)})
	require.NoError(t, err)
	return a
}

func TestBuyExecutesAfterLocalBottom(t *testing.T) {
	h := newHarness(t)
	created := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")
	require.Equal(t, OutcomeCreated, created.Outcome)

	for i, price := range []string{"100", "95", "96"} {
		h.tick(t, i+1, map[string]string{"BTC/USDT": price})
	}

	got, err := h.monitor.Get(context.Background(), created.Alert.ID)
	require.NoError(t, err)
	require.Equal(t, monitor.StateExecuted, got.State)
	assert.Equal(t, monitor.ExitExecuted, got.ExitReason)
	assert.True(t, got.ExecutionPrice.Equal(dec("96")))
	assert.True(t, got.SavingsPct.Equal(dec("4")))
	assert.True(t, got.EfficiencyPct.Equal(dec("80")))
	assert.True(t, got.MonitoringDurationMinutes.Equal(dec("3")))
	require.NotNil(t, got.DispatchedAt)

	assert.Equal(t, 1, h.executor.count())
	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, created.Alert.ID, h.notifier.notes[0].Alert.ID)

	// terminal alerts are not evaluated again
	h.tick(t, 4, map[string]string{"BTC/USDT": "90"})
	after, err := h.monitor.Get(context.Background(), created.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, after.Version)
	assert.Equal(t, 1, h.executor.count())
}

func TestMaxFallCancelsBuy(t *testing.T) {
	h := newHarness(t)
	created := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")

	h.tick(t, 1, map[string]string{"BTC/USDT": "95"})
	h.tick(t, 2, map[string]string{"BTC/USDT": "88"})

	got, err := h.monitor.Get(context.Background(), created.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateCancelled, got.State)
	assert.Equal(t, monitor.ExitMaxFall, got.ExitReason)
	assert.Nil(t, got.SavingsPct)
	assert.Nil(t, got.EfficiencyPct)
	assert.Zero(t, h.executor.count())
}

func TestReplacementKeepsLineage(t *testing.T) {
	h := newHarness(t)
	created := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")
	h.tick(t, 1, map[string]string{"BTC/USDT": "99.8"})

	replaced := h.admit(t, "BTC/USDT", monitor.SideBuy, "99")
	require.Equal(t, OutcomeReplaced, replaced.Outcome)
	assert.Equal(t, created.Alert.ID, replaced.Alert.ID)
	assert.True(t, replaced.Alert.PriceAlert.Equal(dec("99")))
	assert.True(t, replaced.Alert.PriceFirstAlert.Equal(dec("100")))
	assert.Equal(t, 1, replaced.Alert.ReplacementCount)
	assert.True(t, replaced.Alert.Best.Equal(dec("99.8")))

	rejected := h.admit(t, "BTC/USDT", monitor.SideBuy, "99.5")
	assert.Equal(t, OutcomeRejectedNotBetter, rejected.Outcome)
	assert.True(t, rejected.Alert.PriceAlert.Equal(dec("99")))

	active, err := h.monitor.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestMaxTimeDuringFeedOutage(t *testing.T) {
	h := newHarness(t)
	created := h.admit(t, "SOL/USDT", monitor.SideSell, "150")
	h.feed.Fail("SOL/USDT", nil)

	h.tick(t, 30, nil)
	got, err := h.monitor.Get(context.Background(), created.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateMonitoring, got.State)
	assert.Equal(t, int64(1), got.Version)

	h.tick(t, 60, nil)
	got, err = h.monitor.Get(context.Background(), created.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.ExitMaxTime, got.ExitReason)
	assert.True(t, got.MonitoringDurationMinutes.Equal(dec("60")))
}

func TestCooldownRejectsRecentPair(t *testing.T) {
	h := newHarness(t)
	created := h.admit(t, "ETH/USDT", monitor.SideSell, "2500")

	_, err := h.monitor.Cancel(context.Background(), created.Alert.ID, "operator")
	require.NoError(t, err)

	h.clock.Set(t0.Add(time.Minute))
	rejected := h.admit(t, "ETH/USDT", monitor.SideSell, "2510")
	require.Equal(t, OutcomeCooldown, rejected.Outcome)
	assert.Equal(t, monitor.ExitCooldown, rejected.Alert.ExitReason)
	require.NotNil(t, rejected.CooldownUntil)
	assert.True(t, rejected.CooldownUntil.Equal(t0.Add(5*time.Minute)))

	// the audit record does not extend the cooldown
	h.clock.Set(t0.Add(6 * time.Minute))
	again := h.admit(t, "ETH/USDT", monitor.SideSell, "2510")
	assert.Equal(t, OutcomeCreated, again.Outcome)

	history, err := h.monitor.History(context.Background(), monitor.HistoryFilter{Symbol: "ETH/USDT"})
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestSupersedeStartsNewLineage(t *testing.T) {
	h := newHarness(t)
	created := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")

	admission, err := h.monitor.Admit(context.Background(), monitor.Signal{
		Symbol: "BTC/USDT", Side: monitor.SideBuy, Price: dec("105"), Supersede: true,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuperseded, admission.Outcome)
	require.NotNil(t, admission.Previous)
	assert.Equal(t, created.Alert.ID, admission.Previous.ID)
	assert.Equal(t, monitor.ExitReplaced, admission.Previous.ExitReason)
	assert.True(t, admission.Alert.PriceFirstAlert.Equal(dec("105")))

	old, err := h.monitor.Get(context.Background(), created.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateCancelled, old.State)
	require.Len(t, h.notifier.notes, 1)
}

func TestAdmitValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.monitor.Admit(context.Background(), monitor.Signal{Symbol: "", Side: monitor.SideBuy, Price: dec("1")})
	assert.ErrorIs(t, err, monitor.ErrValidation)
	_, err = h.monitor.Admit(context.Background(), monitor.Signal{Symbol: "BTC/USDT", Side: "HOLD", Price: dec("1")})
	assert.ErrorIs(t, err, monitor.ErrValidation)
}

func TestCancelErrors(t *testing.T) {
	h := newHarness(t)
	_, err := h.monitor.Cancel(context.Background(), "missing", "")
	assert.ErrorIs(t, err, monitor.ErrNotFound)

	created := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")
	cancelled, err := h.monitor.Cancel(context.Background(), created.Alert.ID, "manual")
	require.NoError(t, err)
	assert.Equal(t, monitor.ExitCancelled, cancelled.ExitReason)
	assert.Equal(t, "manual", cancelled.CancelReason)

	_, err = h.monitor.Cancel(context.Background(), created.Alert.ID, "again")
	assert.ErrorIs(t, err, monitor.ErrConflict)
	assert.Zero(t, h.monitor.pairs.size())
}

func TestExecutionDispatchIsRedriven(t *testing.T) {
	h := newHarness(t)
	h.executor.failures = 1
	created := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")

	h.tick(t, 1, map[string]string{"BTC/USDT": "95"})
	h.tick(t, 2, map[string]string{"BTC/USDT": "97"})

	got, err := h.monitor.Get(context.Background(), created.Alert.ID)
	require.NoError(t, err)
	require.Equal(t, monitor.StateExecuted, got.State)
	assert.Nil(t, got.DispatchedAt)
	assert.Zero(t, h.executor.count())

	h.tick(t, 3, nil)
	got, err = h.monitor.Get(context.Background(), created.Alert.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DispatchedAt)
	assert.Equal(t, 1, h.executor.count())
}

// cancellingStore lets an operator cancel land between the scheduler's read
// and its conditional write once armed.
type cancellingStore struct {
	*storage.MemoryStore
	armed atomic.Bool
	once  sync.Once
}

func (s *cancellingStore) GetAlert(ctx context.Context, id string) (monitor.Alert, error) {
	current, err := s.MemoryStore.GetAlert(ctx, id)
	if err != nil || !s.armed.Load() {
		return current, err
	}
	s.once.Do(func() {
		cancelled, _, cerr := monitor.CancelCommand{Note: "operator"}.Apply(current, t0.Add(90*time.Second))
		if cerr == nil {
			_, _ = s.MemoryStore.UpdateAlert(ctx, cancelled, current.Version)
		}
	})
	return current, nil
}

func TestSchedulerLosesRaceAgainstCancel(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &cancellingStore{MemoryStore: mem}
	h := newHarness(t, func(o *Options) { o.Store = store })
	h.store = mem

	created := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")
	h.tick(t, 1, map[string]string{"BTC/USDT": "95"})

	// the rebound off 95 would execute if the cycle's write landed
	store.armed.Store(true)
	h.tick(t, 2, map[string]string{"BTC/USDT": "97"})

	got, err := mem.GetAlert(context.Background(), created.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateCancelled, got.State)
	assert.Equal(t, monitor.ExitCancelled, got.ExitReason)
	assert.Nil(t, got.ExecutionPrice)
	assert.Zero(t, h.executor.count())
}

func TestManySymbolsOneBatchedFetchPerTick(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Workers = 3 })
	prices := map[string]string{}
	for i := 0; i < 20; i++ {
		symbol := fmt.Sprintf("C%02d/USDT", i)
		h.admit(t, symbol, monitor.SideBuy, "100")
		prices[symbol] = "95"
	}

	h.tick(t, 1, prices)
	for symbol := range prices {
		prices[symbol] = "96"
	}
	h.tick(t, 2, prices)

	assert.Equal(t, 2, h.feed.Calls())
	active, err := h.monitor.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Equal(t, 20, h.executor.count())
	assert.Zero(t, h.monitor.pairs.size())
}

func TestPanicInOneAlertDoesNotStopTick(t *testing.T) {
	h := newHarness(t)
	h.notifier.panic = true
	a := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")
	b := h.admit(t, "ETH/USDT", monitor.SideSell, "100")

	h.tick(t, 1, map[string]string{"BTC/USDT": "95", "ETH/USDT": "105"})
	h.tick(t, 2, map[string]string{"BTC/USDT": "96", "ETH/USDT": "103"})

	for _, id := range []string{a.Alert.ID, b.Alert.ID} {
		got, err := h.monitor.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, monitor.StateExecuted, got.State)
	}
}

func TestTickSkippedWhenLockHeldElsewhere(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.LockKey = 42 })
	h.admit(t, "BTC/USDT", monitor.SideBuy, "100")

	unlock, ok, err := h.store.TryAdvisoryLock(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, ok)

	h.tick(t, 1, map[string]string{"BTC/USDT": "95"})
	assert.Zero(t, h.feed.Calls())

	unlock()
	h.tick(t, 2, map[string]string{"BTC/USDT": "95"})
	assert.Equal(t, 1, h.feed.Calls())
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 30*time.Second, h.monitor.PollInterval())

	bad := monitor.DefaultConfig()
	bad.MaxFallPct = decimal.Zero
	_, err := h.monitor.UpdateConfig(context.Background(), bad)
	assert.ErrorIs(t, err, monitor.ErrInvalidConfig)

	cfg := monitor.DefaultConfig()
	cfg.PollIntervalSeconds = 10
	updated, err := h.monitor.UpdateConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.Equal(t0))
	assert.Equal(t, 10*time.Second, h.monitor.PollInterval())

	stored, err := h.monitor.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stored.PollIntervalSeconds)
}

func TestSummary(t *testing.T) {
	h := newHarness(t)
	h.admit(t, "BTC/USDT", monitor.SideBuy, "100")
	h.admit(t, "ETH/USDT", monitor.SideBuy, "100")
	h.tick(t, 1, map[string]string{"BTC/USDT": "95", "ETH/USDT": "100"})
	h.tick(t, 2, map[string]string{"BTC/USDT": "96", "ETH/USDT": "100"})

	summary, err := h.monitor.Summary(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Monitoring)
	assert.Equal(t, int64(1), summary.Executed)
	require.NotNil(t, summary.AvgSavingsPct)
	assert.True(t, summary.AvgSavingsPct.Equal(dec("4")))
}

func TestHistoryValidation(t *testing.T) {
	h := newHarness(t)
	from := t0
	to := t0.Add(-time.Hour)
	_, err := h.monitor.History(context.Background(), monitor.HistoryFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, monitor.ErrValidation)
}

func TestFeedGapOnOneSymbolLeavesOthersProgressing(t *testing.T) {
	h := newHarness(t)
	btc := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")
	eth := h.admit(t, "ETH/USDT", monitor.SideSell, "100")

	h.feed.Fail("ETH/USDT", fmt.Errorf("%w: symbol halted", monitor.ErrFeedUnavailable))
	h.tick(t, 1, map[string]string{"BTC/USDT": "95"})
	h.tick(t, 2, map[string]string{"BTC/USDT": "96"})

	got, err := h.monitor.Get(context.Background(), btc.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateExecuted, got.State)
	assert.True(t, got.Best.Equal(dec("95")))

	got, err = h.monitor.Get(context.Background(), eth.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateMonitoring, got.State)
	assert.False(t, got.BestSet)
	assert.Equal(t, 1, h.executor.count())
}

// flakyStore fails conditional writes of one alert while failID is set.
type flakyStore struct {
	*storage.MemoryStore
	mu     sync.Mutex
	failID string
}

func (s *flakyStore) setFailing(id string) {
	s.mu.Lock()
	s.failID = id
	s.mu.Unlock()
}

func (s *flakyStore) UpdateAlert(ctx context.Context, alert monitor.Alert, expectedVersion int64) (monitor.Alert, error) {
	s.mu.Lock()
	failing := alert.ID == s.failID
	s.mu.Unlock()
	if failing {
		return monitor.Alert{}, errors.New("connection reset by peer")
	}
	return s.MemoryStore.UpdateAlert(ctx, alert, expectedVersion)
}

func TestPersistFailureIsolatedToOneAlert(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &flakyStore{MemoryStore: mem}
	h := newHarness(t, func(o *Options) { o.Store = store })
	h.store = mem

	a := h.admit(t, "BTC/USDT", monitor.SideBuy, "100")
	b := h.admit(t, "ETH/USDT", monitor.SideBuy, "100")

	store.setFailing(a.Alert.ID)
	h.tick(t, 1, map[string]string{"BTC/USDT": "95", "ETH/USDT": "95"})

	gotA, err := mem.GetAlert(context.Background(), a.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gotA.Version)
	assert.False(t, gotA.BestSet)

	gotB, err := mem.GetAlert(context.Background(), b.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gotB.Version)
	assert.True(t, gotB.Best.Equal(dec("95")))

	// the failed alert picks up again on the next tick
	store.setFailing("")
	h.tick(t, 2, map[string]string{"BTC/USDT": "95", "ETH/USDT": "96"})

	gotA, err = mem.GetAlert(context.Background(), a.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateMonitoring, gotA.State)
	assert.True(t, gotA.Best.Equal(dec("95")))

	gotB, err = mem.GetAlert(context.Background(), b.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateExecuted, gotB.State)
}

func TestConcurrentAdmitsKeepOneActiveAlert(t *testing.T) {
	h := newHarness(t)
	const signals = 16

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
		errs     []error
	)
	start := make(chan struct{})
	for i := 0; i < signals; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			price := decimal.NewFromInt(100).Sub(decimal.New(int64(i), -1))
			a, err := h.monitor.Admit(context.Background(), monitor.Signal{Symbol: "BTC/USDT", Side: monitor.SideBuy, Price: price})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[a.Outcome]++
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, outcomes[OutcomeCreated])
	assert.Equal(t, signals-1, outcomes[OutcomeReplaced]+outcomes[OutcomeRejectedNotBetter])

	active, err := h.monitor.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].PriceAlert.Equal(dec("98.5")))
	assert.Equal(t, outcomes[OutcomeReplaced], active[0].ReplacementCount)
}

func TestReplicasSharingStoreAdmitOnce(t *testing.T) {
	h := newHarness(t)
	other := New(Options{
		Store: h.store,
		Feed:  h.feed,
		Seed:  monitor.DefaultConfig(),
		Now:   h.clock.Now,
	}, zerolog.Nop())
	require.NoError(t, other.Init(context.Background()))

	for i := 0; i < 20; i++ {
		symbol := fmt.Sprintf("C%02d/USDT", i)
		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for r, replica := range []*Monitor{h.monitor, other} {
			wg.Add(1)
			go func(r int, replica *Monitor) {
				defer wg.Done()
				<-start
				price := decimal.NewFromInt(int64(100 - r))
				_, errs[r] = replica.Admit(context.Background(), monitor.Signal{Symbol: symbol, Side: monitor.SideBuy, Price: price})
			}(r, replica)
		}
		close(start)
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
	}

	active, err := h.monitor.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 20)
	perPair := lo.CountValuesBy(active, func(a monitor.Alert) string { return a.PairKey() })
	for pair, n := range perPair {
		assert.Equal(t, 1, n, pair)
	}
}
