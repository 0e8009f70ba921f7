package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"webhook-monitor/internal/alerting"
	"webhook-monitor/internal/execution"
	"webhook-monitor/internal/monitor"
	"webhook-monitor/internal/pricefeed"
	"webhook-monitor/internal/scheduler"
	"webhook-monitor/internal/storage"
)

// Options wire the monitor's collaborators and runtime limits.
type Options struct {
	Store    storage.MonitorStore
	Feed     pricefeed.Feed
	Executor execution.Collaborator
	Notifier alerting.Notifier

	// Seed is stored as the monitoring policy when none exists yet.
	Seed monitor.Config

	LockKey      int64
	StartupDelay time.Duration
	Workers      int
	FeedTimeout  time.Duration
	StoreTimeout time.Duration
	RedriveBatch int

	Now func() time.Time
}

// Monitor orchestrates admission, the scheduler tick and the operator gateway.
type Monitor struct {
	store    storage.MonitorStore
	feed     pricefeed.Feed
	executor execution.Collaborator
	notifier alerting.Notifier
	locker   storage.AdvisoryLocker
	logger   zerolog.Logger

	lockKey      int64
	startupDelay time.Duration
	workers      int
	feedTimeout  time.Duration
	storeTimeout time.Duration
	redriveBatch int
	now          func() time.Time

	pairs *pairLocks

	cfgMu sync.RWMutex
	cfg   monitor.Config
	seed  monitor.Config
}

// New constructs the monitoring service.
func New(opts Options, logger zerolog.Logger) *Monitor {
	var locker storage.AdvisoryLocker
	if l, ok := opts.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	feedTimeout := opts.FeedTimeout
	if feedTimeout <= 0 {
		feedTimeout = 5 * time.Second
	}
	storeTimeout := opts.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	redrive := opts.RedriveBatch
	if redrive <= 0 {
		redrive = 50
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	seed := opts.Seed
	if seed.PollIntervalSeconds == 0 {
		seed = monitor.DefaultConfig()
	}

	return &Monitor{
		store:        opts.Store,
		feed:         opts.Feed,
		executor:     opts.Executor,
		notifier:     opts.Notifier,
		locker:       locker,
		logger:       logger.With().Str("component", "monitor").Logger(),
		lockKey:      opts.LockKey,
		startupDelay: opts.StartupDelay,
		workers:      workers,
		feedTimeout:  feedTimeout,
		storeTimeout: storeTimeout,
		redriveBatch: redrive,
		now:          now,
		pairs:        newPairLocks(),
		cfg:          seed,
		seed:         seed,
	}
}

// Init loads the stored policy, storing the seed when nothing exists yet.
func (m *Monitor) Init(ctx context.Context) error {
	cfg, found, err := m.store.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load monitor config: %w", err)
	}
	if !found {
		cfg = m.seed
		cfg.UpdatedAt = m.now()
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := m.store.SaveConfig(ctx, cfg); err != nil {
			return fmt.Errorf("store seed config: %w", err)
		}
		m.logger.Info().Int("poll_interval_seconds", cfg.PollIntervalSeconds).Msg("seeded monitor config")
	}
	m.setConfig(cfg)
	return nil
}

// Run begins the monitoring loop.
func (m *Monitor) Run(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{
		Interval:     m.PollInterval,
		StartupDelay: m.startupDelay,
	}, m.logger)
	return sched.Run(ctx, m.ProcessTick)
}

// PollInterval reports the interval of the latest config snapshot.
func (m *Monitor) PollInterval() time.Duration {
	return m.snapshot().PollInterval()
}

func (m *Monitor) snapshot() monitor.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

func (m *Monitor) setConfig(cfg monitor.Config) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
}

// refreshConfig reloads the stored policy so changes made by other replicas
// apply from the next tick. The previous snapshot is kept on failure.
func (m *Monitor) refreshConfig(ctx context.Context) monitor.Config {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	cfg, found, err := m.store.LoadConfig(sctx)
	switch {
	case err != nil:
		m.logger.Warn().Err(err).Msg("config reload failed, keeping previous snapshot")
	case !found:
	case cfg.Validate() != nil:
		m.logger.Warn().Err(cfg.Validate()).Msg("stored config invalid, keeping previous snapshot")
	default:
		m.setConfig(cfg)
	}
	return m.snapshot()
}

func (m *Monitor) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.storeTimeout)
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.lockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
