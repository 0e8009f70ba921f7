package pricefeed

import (
	"context"
	"strings"

	"webhook-monitor/internal/monitor"
)

// Feed returns the latest price of instruments. Per-symbol failures are
// reported as gap quotes, never as a failure of the whole batch.
type Feed interface {
	Price(ctx context.Context, symbol string) monitor.Quote
	Prices(ctx context.Context, symbols []string) map[string]monitor.Quote
}

// ExchangeSymbol converts "BTC/USDT" style symbols into the exchange ticker form "BTCUSDT".
func ExchangeSymbol(symbol string) string {
	r := strings.NewReplacer("/", "", "-", "", "_", "", " ", "")
	return strings.ToUpper(r.Replace(symbol))
}
