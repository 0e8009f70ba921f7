package pricefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
)

// StaticFeed serves prices set by the caller. The simulator replays price paths
// through it and tests use it as a controllable feed.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	errs   map[string]error
	calls  int
}

// NewStaticFeed builds an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
	}
}

// Set publishes a price for symbol and clears any injected failure.
func (f *StaticFeed) Set(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
	delete(f.errs, symbol)
}

// Fail makes the next lookups of symbol report a feed gap.
func (f *StaticFeed) Fail(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = monitor.ErrFeedUnavailable
	}
	f.errs[symbol] = err
}

// Calls returns how many batched lookups were served.
func (f *StaticFeed) Calls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls
}

func (f *StaticFeed) Price(ctx context.Context, symbol string) monitor.Quote {
	return f.Prices(ctx, []string{symbol})[symbol]
}

func (f *StaticFeed) Prices(_ context.Context, symbols []string) map[string]monitor.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string]monitor.Quote, len(symbols))
	for _, symbol := range symbols {
		if err, failed := f.errs[symbol]; failed {
			out[symbol] = monitor.GapQuote(err)
			continue
		}
		price, ok := f.prices[symbol]
		if !ok {
			out[symbol] = monitor.GapQuote(fmt.Errorf("%w: no price for %s", monitor.ErrFeedUnavailable, symbol))
			continue
		}
		out[symbol] = monitor.PriceQuote(price)
	}
	return out
}

var _ Feed = (*StaticFeed)(nil)
