package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"webhook-monitor/internal/logging"
	"webhook-monitor/internal/monitor"
)

// EnvPrefix namespaces environment overrides, e.g. WEBHOOKMONITOR_DATABASE_DSN.
const EnvPrefix = "WEBHOOKMONITOR"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN runs the
// monitor on the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the monitoring loop. The tick interval itself comes
// from the stored MonitorConfig.
type SchedulerConfig struct {
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Workers         int           `mapstructure:"workers"`
	FeedTimeout     time.Duration `mapstructure:"feed_timeout"`
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`
	RedriveBatch    int           `mapstructure:"redrive_batch"`
}

// MonitorConfig seeds the stored monitoring policy when none exists yet.
type MonitorConfig struct {
	MaxFallPct               decimal.Decimal `mapstructure:"max_fall_pct"`
	MaxRisePct               decimal.Decimal `mapstructure:"max_rise_pct"`
	MaxMonitoringMinutes     int             `mapstructure:"max_monitoring_minutes"`
	LateralCycleThreshold    int             `mapstructure:"lateral_cycle_threshold"`
	CooldownMinutes          int             `mapstructure:"cooldown_minutes"`
	PollIntervalSeconds      int             `mapstructure:"poll_interval_seconds"`
	ReversionConfirmationPct decimal.Decimal `mapstructure:"reversion_confirmation_pct"`
	NoiseBandPct             decimal.Decimal `mapstructure:"noise_band_pct"`
}

// BinanceConfig covers the spot ticker price feed.
type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"base_url"`
}

// RedisConfig enables the shared latest-price cache.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	MaxStaleness time.Duration `mapstructure:"max_staleness"`
}

// ExecutionConfig points at the order-execution collaborator.
type ExecutionConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	AuthToken      string        `mapstructure:"auth_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines outcome notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// HTTPConfig configures the ingress and admin API.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	AdminToken      string        `mapstructure:"admin_token"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "webhookmonitor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// keys without a default are invisible to AutomaticEnv during Unmarshal
	v.SetDefault("database.dsn", "")
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.secret_key", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("execution.webhook_url", "")
	v.SetDefault("execution.auth_token", "")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("http.admin_token", "")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.advisory_lock_key", int64(0x77686d6e))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.feed_timeout", "5s")
	v.SetDefault("scheduler.store_timeout", "3s")
	v.SetDefault("scheduler.redrive_batch", 50)

	seed := monitor.DefaultConfig()
	v.SetDefault("monitor.max_fall_pct", seed.MaxFallPct.String())
	v.SetDefault("monitor.max_rise_pct", seed.MaxRisePct.String())
	v.SetDefault("monitor.max_monitoring_minutes", seed.MaxMonitoringMinutes)
	v.SetDefault("monitor.lateral_cycle_threshold", seed.LateralCycleThreshold)
	v.SetDefault("monitor.cooldown_minutes", seed.CooldownMinutes)
	v.SetDefault("monitor.poll_interval_seconds", seed.PollIntervalSeconds)
	v.SetDefault("monitor.reversion_confirmation_pct", seed.ReversionConfirmationPct.String())
	v.SetDefault("monitor.noise_band_pct", seed.NoiseBandPct.String())

	v.SetDefault("binance.base_url", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "webhookmonitor")
	v.SetDefault("redis.max_staleness", "1m")

	v.SetDefault("execution.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc decodes strings and numbers into decimal.Decimal.
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(v))
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		default:
			return data, nil
		}
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if c.Scheduler.FeedTimeout <= 0 {
		return fmt.Errorf("scheduler.feed_timeout must be greater than zero")
	}
	if c.Scheduler.StoreTimeout <= 0 {
		return fmt.Errorf("scheduler.store_timeout must be greater than zero")
	}
	if err := c.Monitor.Policy().Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// Policy converts the seed section into a MonitorConfig.
func (m MonitorConfig) Policy() monitor.Config {
	return monitor.Config{
		MaxFallPct:               m.MaxFallPct,
		MaxRisePct:               m.MaxRisePct,
		MaxMonitoringMinutes:     m.MaxMonitoringMinutes,
		LateralCycleThreshold:    m.LateralCycleThreshold,
		CooldownMinutes:          m.CooldownMinutes,
		PollIntervalSeconds:      m.PollIntervalSeconds,
		ReversionConfirmationPct: m.ReversionConfirmationPct,
		NoiseBandPct:             m.NoiseBandPct,
	}
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
