package alerting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/qzbxw/velox-sub000/internal/monitor"
)

func sampleNote() Notification {
	return Notification{
		Group:     "main",
		Timestamp: time.Now(),
		Alerts:    []monitor.Alert{{Kind: monitor.KindMarginLow, Value: 25, Threshold: 30, Aux: 75}},
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
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "Margin health low") {
		t.Fatalf("text 应包含告警: %q", received["text"])
	}
}

func TestTelegramNotifierGroupChatOverride(t *testing.T) {
	var chat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		chat = body["chat_id"]
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	note := sampleNote()
	note.ChatID = "group-chat"
	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if chat != "group-chat" {
		t.Fatalf("expected group chat override, got %q", chat)
	}
}

func TestTelegramNotifierSkipsEmptyBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("empty batch must not be sent")
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Group: "main"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("ok=false 应报错, got %v", err)
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(context.Context, Notification) error {
	r.calls++
	return r.err
}

func TestRouterFansOut(t *testing.T) {
	tg := &recordingNotifier{err: errors.New("boom")}
	logN := &recordingNotifier{}
	router := NewRouter(map[string]Notifier{"telegram": tg, "log": logN}, []string{"telegram", "log", "email"}, testLogger())

	err := router.Notify(context.Background(), sampleNote())
	if err == nil || !strings.Contains(err.Error(), "telegram: boom") {
		t.Fatalf("expected joined telegram error, got %v", err)
	}
	if tg.calls != 1 || logN.calls != 1 {
		t.Fatalf("every configured channel should be called: %d %d", tg.calls, logN.calls)
	}

	note := sampleNote()
	note.Channels = []string{"log"}
	if err := router.Notify(context.Background(), note); err != nil {
		t.Fatalf("log only: %v", err)
	}
	if tg.calls != 1 || logN.calls != 2 {
		t.Fatalf("explicit channels override defaults: %d %d", tg.calls, logN.calls)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := NewLogNotifier(testLogger()).Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
