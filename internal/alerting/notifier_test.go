package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
)

func executedAlert() monitor.Alert {
	exec := decimal.NewFromInt(96)
	savings := decimal.NewFromInt(4)
	terminal := time.Date(2025, 3, 1, 12, 3, 0, 0, time.UTC)
	return monitor.Alert{
		ID:              "a1",
		Symbol:          "BTC/USDT",
		Side:            monitor.SideBuy,
		State:           monitor.StateExecuted,
		PriceAlert:      decimal.NewFromInt(100),
		PriceFirstAlert: decimal.NewFromInt(100),
		ExitReason:      monitor.ExitExecuted,
		ExecutionPrice:  &exec,
		SavingsPct:      &savings,
		TerminalAt:      &terminal,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Alert: executedAlert(), Tick: time.Now()}); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "BTC/USDT BUY EXECUTED") {
		t.Fatalf("text 应包含告警摘要, 实际 %q", received["text"])
	}
	if !strings.Contains(received["text"], "Execution: 96") {
		t.Fatalf("text 应包含成交价, 实际 %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Alert: executedAlert()}); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessageCancelled(t *testing.T) {
	a := executedAlert()
	a.State = monitor.StateCancelled
	a.ExitReason = monitor.ExitMaxFall
	a.ExitDetails = "price fell 12% below first alert"
	a.ExecutionPrice = nil
	a.SavingsPct = nil

	text := renderMessage(Notification{Alert: a})
	if strings.Contains(text, "Execution:") {
		t.Fatalf("取消的告警不应包含成交价: %q", text)
	}
	if !strings.Contains(text, "Exit: MAX_FALL") {
		t.Fatalf("应包含退出原因: %q", text)
	}
	if !strings.Contains(text, "Duration: - min") {
		t.Fatalf("缺失时长应显示 -: %q", text)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
