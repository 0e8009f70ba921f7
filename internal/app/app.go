package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"webhook-monitor/internal/alerting"
	"webhook-monitor/internal/api"
	"webhook-monitor/internal/config"
	"webhook-monitor/internal/execution"
	"webhook-monitor/internal/pricefeed"
	"webhook-monitor/internal/service"
	"webhook-monitor/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newFeed(ctx context.Context) (pricefeed.Feed, func(), error) {
	binance := pricefeed.NewBinanceFeed(pricefeed.BinanceOptions{
		APIKey:    a.Config.Binance.APIKey,
		SecretKey: a.Config.Binance.SecretKey,
		BaseURL:   a.Config.Binance.BaseURL,
	}, a.Logger)

	if !a.Config.Redis.Enabled {
		return binance, nil, nil
	}

	cache, err := pricefeed.NewRedisCache(ctx, pricefeed.RedisOptions{
		Addr:      a.Config.Redis.Addr,
		Password:  a.Config.Redis.Password,
		DB:        a.Config.Redis.DB,
		KeyPrefix: a.Config.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := cache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis cache")
		}
	}
	return pricefeed.NewCachedFeed(binance, cache, a.Config.Redis.MaxStaleness, a.Logger), closer, nil
}

func (a *App) newExecutor() execution.Collaborator {
	cfg := a.Config.Execution
	if cfg.WebhookURL == "" {
		a.Logger.Warn().Msg("execution.webhook_url not configured; executed alerts are only logged")
		return execution.NewLogCollaborator(a.Logger)
	}
	return execution.NewWebhookDispatcher(cfg.WebhookURL, cfg.AuthToken, cfg.RequestTimeout, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.MonitorStore, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore opens the PostgreSQL store for one-shot operator commands.
func (a *App) requireStore(ctx context.Context, action string) (storage.MonitorStore, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database not configured; cannot " + action)
	}
	if closeStore == nil {
		closeStore = func() {}
	}
	return store, closeStore, nil
}

func (a *App) serviceOptions(store storage.MonitorStore) service.Options {
	sched := a.Config.Scheduler
	return service.Options{
		Store:        store,
		Seed:         a.Config.Monitor.Policy(),
		LockKey:      sched.AdvisoryLockKey,
		StartupDelay: sched.StartupDelay,
		Workers:      sched.Workers,
		FeedTimeout:  sched.FeedTimeout,
		StoreTimeout: sched.StoreTimeout,
		RedriveBatch: sched.RedriveBatch,
	}
}

// openGateway builds a monitor over the PostgreSQL store without a feed or
// executor, for commands that only read or cancel.
func (a *App) openGateway(ctx context.Context, action string) (*service.Monitor, func(), error) {
	store, closeStore, err := a.requireStore(ctx, action)
	if err != nil {
		return nil, nil, err
	}
	m := service.New(a.serviceOptions(store), a.Logger)
	if err := m.Init(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return m, closeStore, nil
}

// Run executes the long-running monitoring service and its HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alerts are kept in memory only")
		store = storage.NewMemoryStore()
	}
	if closeStore != nil {
		defer closeStore()
	}

	feed, closeFeed, err := a.newFeed(ctx)
	if err != nil {
		return err
	}
	if closeFeed != nil {
		defer closeFeed()
	}

	opts := a.serviceOptions(store)
	opts.Feed = feed
	opts.Executor = a.newExecutor()
	if notifier := a.newNotifier(); notifier != nil {
		opts.Notifier = notifier
	}

	svc := service.New(opts, a.Logger)
	if err := svc.Init(ctx); err != nil {
		return err
	}

	httpCfg := a.Config.HTTP
	if httpCfg.AdminToken == "" {
		a.Logger.Warn().Msg("http.admin_token not configured; config updates over HTTP are disabled")
	}
	server := &http.Server{
		Addr:         httpCfg.Addr,
		Handler:      api.NewServer(svc, httpCfg.AdminToken, a.Logger).Router(),
		ReadTimeout:  httpCfg.ReadTimeout,
		WriteTimeout: httpCfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Str("addr", httpCfg.Addr).Msg("starting http api")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.Logger.Info().Dur("poll_interval", svc.PollInterval()).Msg("starting monitoring service")
		err := svc.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		// stop the api as well when the loop exits on its own
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting alert history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbol string
}

// SimulateOptions describe one replayed price path.
type SimulateOptions struct {
	Symbol string
	Side   string
	Price  string
	Path   []string
}
