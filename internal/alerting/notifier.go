package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/report"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Notification 封装一个监控组在一次轮询中触发的全部告警。
type Notification struct {
	Group     string
	Timestamp time.Time
	Alerts    []monitor.Alert
	// ChatID overrides the notifier's default destination when set.
	ChatID        string
	Channels      []string
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
	chatID := n.chatID
	if note.ChatID != "" {
		chatID = note.ChatID
	}
	if chatID == "" {
		return fmt.Errorf("telegram chat id not configured for group %q", note.Group)
	}

	text := RenderMessage(note)
	if text == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
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
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
	}

	n.logger.Info().Str("group", note.Group).
		Int("alerts", len(note.Alerts)).
		Msg("告警已发送 (Telegram)")
	return nil
}

// RenderMessage renders the notification text; empty when there are no alerts.
func RenderMessage(note Notification) string {
	text := report.Alerts(note.Group, note.Timestamp, note.Alerts)
	if text == "" {
		return ""
	}
	if note.AdditionalMsg != "" {
		text += note.AdditionalMsg
	}
	return text
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs each alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	for _, a := range note.Alerts {
		n.logger.Warn().
			Str("group", note.Group).
			Str("kind", string(a.Kind)).
			Str("symbol", a.Symbol).
			Float64("value", a.Value).
			Float64("threshold", a.Threshold).
			Msg(report.Alert(a))
	}
	return nil
}

// Router fans a notification out to the named channels.
type Router struct {
	channels map[string]Notifier
	defaults []string
	logger   zerolog.Logger
}

// NewRouter builds a router; defaults are used when a notification names no channels.
func NewRouter(channels map[string]Notifier, defaults []string, logger zerolog.Logger) *Router {
	return &Router{
		channels: channels,
		defaults: defaults,
		logger:   logger.With().Str("component", "alert_router").Logger(),
	}
}

// Notify delivers to every channel and joins the errors. Unknown channels are skipped.
func (r *Router) Notify(ctx context.Context, note Notification) error {
	names := note.Channels
	if len(names) == 0 {
		names = r.defaults
	}
	var errs []error
	for _, name := range names {
		n, ok := r.channels[name]
		if !ok || n == nil {
			r.logger.Debug().Str("channel", name).Msg("alert channel not configured")
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Router)(nil)
)
