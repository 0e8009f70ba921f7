package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
)

// CachedPrice is the last good price observed for a symbol.
type CachedPrice struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// PriceCache stores the latest price per symbol.
type PriceCache interface {
	SetLatest(ctx context.Context, price CachedPrice, ttl time.Duration) error
	GetLatest(ctx context.Context, symbol string) (CachedPrice, bool, error)
}

// RedisOptions configure the Redis price cache.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisCache keeps latest prices in Redis so replicas share the last good value.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "webhookmonitor"
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) key(symbol string) string {
	return fmt.Sprintf("%s:latest:%s", c.prefix, symbol)
}

// SetLatest stores price with a TTL.
func (c *RedisCache) SetLatest(ctx context.Context, price CachedPrice, ttl time.Duration) error {
	data, err := json.Marshal(price)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(price.Symbol), data, ttl).Err()
}

// GetLatest returns the cached price, or false when nothing is cached.
func (c *RedisCache) GetLatest(ctx context.Context, symbol string) (CachedPrice, bool, error) {
	data, err := c.client.Get(ctx, c.key(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CachedPrice{}, false, nil
		}
		return CachedPrice{}, false, err
	}

	var price CachedPrice
	if err := json.Unmarshal([]byte(data), &price); err != nil {
		return CachedPrice{}, false, err
	}
	return price, true, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedFeed records every good quote of the wrapped feed and serves the cached
// value for a symbol whose lookup failed, provided it is not older than
// MaxStaleness. Older or missing values stay gaps.
type CachedFeed struct {
	next         Feed
	cache        PriceCache
	maxStaleness time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewCachedFeed wraps next with a latest-price cache.
func NewCachedFeed(next Feed, cache PriceCache, maxStaleness time.Duration, logger zerolog.Logger) *CachedFeed {
	return &CachedFeed{
		next:         next,
		cache:        cache,
		maxStaleness: maxStaleness,
		logger:       logger.With().Str("component", "cached_feed").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (f *CachedFeed) Price(ctx context.Context, symbol string) monitor.Quote {
	return f.Prices(ctx, []string{symbol})[symbol]
}

func (f *CachedFeed) Prices(ctx context.Context, symbols []string) map[string]monitor.Quote {
	quotes := f.next.Prices(ctx, symbols)
	now := f.now()

	for _, symbol := range symbols {
		quote, ok := quotes[symbol]
		if ok && quote.Available() {
			entry := CachedPrice{Symbol: symbol, Price: quote.Price, ObservedAt: now}
			if err := f.cache.SetLatest(ctx, entry, f.maxStaleness); err != nil {
				f.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache price")
			}
			continue
		}
		if f.maxStaleness <= 0 {
			continue
		}

		cached, found, err := f.cache.GetLatest(ctx, symbol)
		if err != nil {
			f.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to read cached price")
			continue
		}
		if !found || now.Sub(cached.ObservedAt) > f.maxStaleness {
			continue
		}
		f.logger.Info().
			Str("symbol", symbol).
			Str("price", cached.Price.String()).
			Time("observed_at", cached.ObservedAt).
			Msg("serving cached price on feed gap")
		quotes[symbol] = monitor.PriceQuote(cached.Price)
	}
	return quotes
}

var (
	_ Feed       = (*CachedFeed)(nil)
	_ PriceCache = (*RedisCache)(nil)
)
