package pricefeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
)

// BinanceOptions parameterise the Binance spot ticker feed.
type BinanceOptions struct {
	APIKey    string
	SecretKey string
	BaseURL   string
}

// BinanceFeed reads spot ticker prices from Binance.
type BinanceFeed struct {
	cli    *binance.Client
	logger zerolog.Logger
}

// NewBinanceFeed constructs a feed backed by the public ticker endpoint.
func NewBinanceFeed(opts BinanceOptions, logger zerolog.Logger) *BinanceFeed {
	cli := binance.NewClient(opts.APIKey, opts.SecretKey)
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		cli.BaseURL = base
	}
	return &BinanceFeed{
		cli:    cli,
		logger: logger.With().Str("component", "binance_feed").Logger(),
	}
}

// Price returns the latest price for one symbol.
func (f *BinanceFeed) Price(ctx context.Context, symbol string) monitor.Quote {
	return f.Prices(ctx, []string{symbol})[symbol]
}

// Prices fetches all symbols with one ticker request. A failed request turns
// every requested symbol into a gap; a symbol absent from the response is a gap
// of its own.
func (f *BinanceFeed) Prices(ctx context.Context, symbols []string) map[string]monitor.Quote {
	out := make(map[string]monitor.Quote, len(symbols))
	if len(symbols) == 0 {
		return out
	}

	// several monitor symbols may map onto the same exchange ticker
	byTicker := lo.GroupBy(lo.Uniq(symbols), ExchangeSymbol)
	tickers := lo.Keys(byTicker)

	prices, err := f.cli.NewListPricesService().Symbols(tickers).Do(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Strs("symbols", tickers).Msg("ticker request failed")
		gap := monitor.GapQuote(fmt.Errorf("%w: %v", monitor.ErrFeedUnavailable, err))
		for _, symbol := range symbols {
			out[symbol] = gap
		}
		return out
	}

	for _, p := range prices {
		if p == nil {
			continue
		}
		price, parseErr := decimal.NewFromString(p.Price)
		quote := monitor.PriceQuote(price)
		if parseErr != nil {
			quote = monitor.GapQuote(fmt.Errorf("%w: parse %s price %q: %v", monitor.ErrFeedUnavailable, p.Symbol, p.Price, parseErr))
		}
		for _, symbol := range byTicker[p.Symbol] {
			out[symbol] = quote
		}
	}

	for _, symbol := range symbols {
		if _, ok := out[symbol]; !ok {
			out[symbol] = monitor.GapQuote(fmt.Errorf("%w: no ticker for %s", monitor.ErrFeedUnavailable, symbol))
		}
	}
	return out
}

var _ Feed = (*BinanceFeed)(nil)
