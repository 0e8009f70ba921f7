package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-monitor/internal/monitor"
)

func TestExchangeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ExchangeSymbol("BTC/USDT"))
	assert.Equal(t, "ETHUSDT", ExchangeSymbol("eth-usdt"))
	assert.Equal(t, "SOLUSDT", ExchangeSymbol("SOLUSDT"))
}

func TestBinanceFeedBatchedPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","price":"65000.10"},{"symbol":"ETHUSDT","price":"2500.00"}]`))
	}))
	defer srv.Close()

	feed := NewBinanceFeed(BinanceOptions{BaseURL: srv.URL}, zerolog.Nop())
	quotes := feed.Prices(context.Background(), []string{"BTC/USDT", "ETH/USDT", "DOGE/USDT"})

	require.Len(t, quotes, 3)
	require.True(t, quotes["BTC/USDT"].Available())
	assert.True(t, quotes["BTC/USDT"].Price.Equal(decimal.RequireFromString("65000.10")))
	assert.True(t, quotes["ETH/USDT"].Price.Equal(decimal.NewFromInt(2500)))
	assert.False(t, quotes["DOGE/USDT"].Available())
	assert.ErrorIs(t, quotes["DOGE/USDT"].Err, monitor.ErrFeedUnavailable)
}

func TestBinanceFeedRequestFailureIsGap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	feed := NewBinanceFeed(BinanceOptions{BaseURL: srv.URL}, zerolog.Nop())
	quote := feed.Price(context.Background(), "BTC/USDT")
	assert.False(t, quote.Available())
	assert.ErrorIs(t, quote.Err, monitor.ErrFeedUnavailable)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]CachedPrice
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]CachedPrice)}
}

func (c *fakeCache) SetLatest(_ context.Context, price CachedPrice, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[price.Symbol] = price
	return nil
}

func (c *fakeCache) GetLatest(_ context.Context, symbol string) (CachedPrice, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return CachedPrice{}, false, c.getErr
	}
	p, ok := c.entries[symbol]
	return p, ok, nil
}

func TestCachedFeedServesRecentPriceOnGap(t *testing.T) {
	static := NewStaticFeed()
	cache := newFakeCache()
	feed := NewCachedFeed(static, cache, time.Minute, zerolog.Nop())

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	feed.now = func() time.Time { return now }

	static.Set("BTC/USDT", decimal.NewFromInt(100))
	quote := feed.Price(context.Background(), "BTC/USDT")
	require.True(t, quote.Available())

	static.Fail("BTC/USDT", nil)
	now = now.Add(30 * time.Second)
	quote = feed.Price(context.Background(), "BTC/USDT")
	require.True(t, quote.Available())
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(100)))

	// too old to stand in for a live price
	now = now.Add(2 * time.Minute)
	quote = feed.Price(context.Background(), "BTC/USDT")
	assert.False(t, quote.Available())
}

func TestCachedFeedCacheErrorKeepsGap(t *testing.T) {
	static := NewStaticFeed()
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	feed := NewCachedFeed(static, cache, time.Minute, zerolog.Nop())

	quote := feed.Price(context.Background(), "ETH/USDT")
	assert.False(t, quote.Available())
}

func TestStaticFeed(t *testing.T) {
	feed := NewStaticFeed()
	feed.Set("BTC/USDT", decimal.NewFromInt(10))
	feed.Fail("ETH/USDT", nil)

	quotes := feed.Prices(context.Background(), []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"})
	assert.True(t, quotes["BTC/USDT"].Available())
	assert.ErrorIs(t, quotes["ETH/USDT"].Err, monitor.ErrFeedUnavailable)
	assert.False(t, quotes["SOL/USDT"].Available())
	assert.Equal(t, 1, feed.Calls())

	feed.Set("ETH/USDT", decimal.NewFromInt(5))
	assert.True(t, feed.Price(context.Background(), "ETH/USDT").Available())
}
