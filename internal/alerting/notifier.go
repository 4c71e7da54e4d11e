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

	"pricewatch/internal/domain"
)

// Notification 封装告警上下文。
type Notification struct {
	Item     domain.TrackedItem
	Event    domain.AlertEvent
	Snapshot domain.Snapshot
	Currency string
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

	n.logger.Info().Int64("item_id", note.Item.ID).
		Str("kind", string(note.Event.Kind)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	ev := note.Event
	snap := note.Snapshot
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s] %s\n", headline(ev.Kind), note.Item.Label()))
	switch ev.Kind {
	case domain.AlertFreeGame:
		builder.WriteString("Now free to keep\n")
	case domain.AlertReleased:
		builder.WriteString(fmt.Sprintf("Released at %s\n", FormatPrice(ev.TriggerPrice, note.Currency)))
	default:
		builder.WriteString(fmt.Sprintf("Price: %s", FormatPrice(ev.TriggerPrice, note.Currency)))
		if snap.EffectiveDiscount() > 0 {
			builder.WriteString(fmt.Sprintf(" (-%d%% from %s)", snap.EffectiveDiscount(), FormatPrice(snap.OriginalPrice, note.Currency)))
		}
		builder.WriteString("\n")
		if ev.PreviousLow.IsPositive() {
			builder.WriteString(fmt.Sprintf("Previous low: %s\n", FormatPrice(ev.PreviousLow, note.Currency)))
		}
	}
	if note.Item.Policy != nil {
		builder.WriteString(fmt.Sprintf("Policy: %s\n", note.Item.Policy.String()))
	}
	builder.WriteString(fmt.Sprintf("At: %s UTC", ev.CreatedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

func headline(kind domain.AlertKind) string {
	switch kind {
	case domain.AlertNewLow:
		return "New historical low"
	case domain.AlertSaleStart:
		return "Sale started"
	case domain.AlertThresholdMet:
		return "Target reached"
	case domain.AlertFreeGame:
		return "Free game"
	case domain.AlertReleased:
		return "Released"
	default:
		return string(kind)
	}
}

// FormatPrice renders minor units as a two-decimal amount with an optional currency code.
func FormatPrice(minor decimal.Decimal, currency string) string {
	s := minor.Shift(-2).StringFixed(2)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

var _ Notifier = (*TelegramNotifier)(nil)
