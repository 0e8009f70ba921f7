package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
)

// Notification 封装终态告警上下文。
type Notification struct {
	Alert         monitor.Alert
	Tick          time.Time
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().
		Str("alert_id", note.Alert.ID).
		Str("symbol", note.Alert.Symbol).
		Str("exit_reason", string(note.Alert.ExitReason)).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes outcomes to the log when no chat channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	a := note.Alert
	event := n.logger.Info().
		Str("alert_id", a.ID).
		Str("symbol", a.Symbol).
		Str("side", string(a.Side)).
		Str("state", string(a.State)).
		Str("exit_reason", string(a.ExitReason))
	if a.SavingsPct != nil {
		event = event.Str("savings_pct", a.SavingsPct.String())
	}
	event.Msg("monitoring outcome")
	return nil
}

func renderMessage(note Notification) string {
	a := note.Alert
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Webhook Monitor] %s %s %s\n", a.Symbol, a.Side, a.State))
	builder.WriteString(fmt.Sprintf("Exit: %s\n", a.ExitReason))
	if a.ExitDetails != "" {
		builder.WriteString(fmt.Sprintf("Details: %s\n", a.ExitDetails))
	}
	builder.WriteString(fmt.Sprintf("Signal: %s (first %s, replaced %d×)\n", a.PriceAlert.String(), a.PriceFirstAlert.String(), a.ReplacementCount))
	if a.ExecutionPrice != nil {
		builder.WriteString(fmt.Sprintf("Execution: %s\n", a.ExecutionPrice.String()))
	}
	if a.SavingsPct != nil {
		builder.WriteString(fmt.Sprintf("Savings: %s%%\n", a.SavingsPct.StringFixed(3)))
	}
	if a.EfficiencyPct != nil {
		builder.WriteString(fmt.Sprintf("Efficiency: %s%%\n", a.EfficiencyPct.StringFixed(1)))
	}
	builder.WriteString(fmt.Sprintf("Duration: %s min\n", optional(a.MonitoringDurationMinutes)))
	if a.TerminalAt != nil {
		builder.WriteString(fmt.Sprintf("Closed: %s UTC\n", a.TerminalAt.UTC().Format(time.RFC3339)))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func optional(v *decimal.Decimal) string {
	if v == nil {
		return "-"
	}
	return v.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
