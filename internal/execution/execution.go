package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
)

// Collaborator receives alerts that reached EXECUTED. Delivery is at-least-once:
// an alert is offered again until OnAlertExecuted returns nil, so receivers
// deduplicate on the alert id.
type Collaborator interface {
	OnAlertExecuted(ctx context.Context, alert monitor.Alert) error
}

// Order is the payload handed to the order-execution service.
type Order struct {
	AlertID         string          `json:"alert_id"`
	Symbol          string          `json:"symbol"`
	Side            monitor.Side    `json:"side"`
	ExecutionPrice  decimal.Decimal `json:"execution_price"`
	PriceFirstAlert decimal.Decimal `json:"price_first_alert"`
	WebhookSourceID string          `json:"webhook_source_id,omitempty"`
	Strategy        string          `json:"strategy,omitempty"`
	ExecutedAt      time.Time       `json:"executed_at"`
}

// NewOrder builds the execution payload of an executed alert.
func NewOrder(a monitor.Alert) (Order, error) {
	if a.State != monitor.StateExecuted || a.ExecutionPrice == nil {
		return Order{}, fmt.Errorf("alert %s is %s, not executable", a.ID, a.State)
	}
	order := Order{
		AlertID:         a.ID,
		Symbol:          a.Symbol,
		Side:            a.Side,
		ExecutionPrice:  *a.ExecutionPrice,
		PriceFirstAlert: a.PriceFirstAlert,
		WebhookSourceID: a.WebhookSourceID,
		Strategy:        a.Strategy,
	}
	if a.TerminalAt != nil {
		order.ExecutedAt = a.TerminalAt.UTC()
	}
	return order, nil
}

// WebhookDispatcher posts executed alerts to an HTTP endpoint.
type WebhookDispatcher struct {
	url    string
	token  string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookDispatcher constructs an HTTP execution collaborator.
func NewWebhookDispatcher(url, token string, timeout time.Duration, logger zerolog.Logger) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		url:    strings.TrimSpace(url),
		token:  token,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "execution_webhook").Logger(),
	}
}

// OnAlertExecuted posts the order; any non-2xx answer is a failed delivery.
func (d *WebhookDispatcher) OnAlertExecuted(ctx context.Context, alert monitor.Alert) error {
	order, err := NewOrder(alert)
	if err != nil {
		return err
	}

	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", alert.ID)
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send execution request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("execution endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	d.logger.Info().
		Str("alert_id", alert.ID).
		Str("symbol", alert.Symbol).
		Str("execution_price", order.ExecutionPrice.String()).
		Msg("executed alert dispatched")
	return nil
}

// LogCollaborator accepts every executed alert and only logs it. It stands in
// when no execution endpoint is configured.
type LogCollaborator struct {
	logger zerolog.Logger
}

// NewLogCollaborator builds a logging collaborator.
func NewLogCollaborator(logger zerolog.Logger) *LogCollaborator {
	return &LogCollaborator{logger: logger.With().Str("component", "execution_log").Logger()}
}

func (c *LogCollaborator) OnAlertExecuted(_ context.Context, alert monitor.Alert) error {
	order, err := NewOrder(alert)
	if err != nil {
		return err
	}
	c.logger.Info().
		Str("alert_id", order.AlertID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("execution_price", order.ExecutionPrice.String()).
		Msg("executed alert (no execution endpoint configured)")
	return nil
}

var (
	_ Collaborator = (*WebhookDispatcher)(nil)
	_ Collaborator = (*LogCollaborator)(nil)
)
