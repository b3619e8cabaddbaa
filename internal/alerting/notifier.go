package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
)

// Notification 封装一次价格波动告警的上下文。
type Notification struct {
	Symbol        string
	Kind          market.Kind
	WindowMinutes int
	StartPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	ChangePct     decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	At            time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Sender is the outbound half of the chat channel.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, keyboard [][]string) error
}

// ChatNotifier 通过聊天通道把告警推送给运营者。
type ChatNotifier struct {
	sender Sender
	chatID int64
	logger zerolog.Logger
}

// NewChatNotifier 构造告警器。
func NewChatNotifier(sender Sender, chatID int64, logger zerolog.Logger) *ChatNotifier {
	return &ChatNotifier{
		sender: sender,
		chatID: chatID,
		logger: logger.With().Str("component", "alert_chat").Logger(),
	}
}

// Notify sends the rendered alert to the operator chat.
func (n *ChatNotifier) Notify(ctx context.Context, note Notification) error {
	if err := n.sender.Send(ctx, n.chatID, RenderMessage(note), nil); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}

	n.logger.Info().Str("symbol", note.Symbol).
		Str("market_kind", string(note.Kind)).
		Int("window", note.WindowMinutes).
		Str("direction", note.Direction).
		Msg("告警已发送")
	return nil
}

// RenderMessage formats an alert for the chat channel.
func RenderMessage(note Notification) string {
	arrow := "📉 down"
	if note.ChangePct.IsPositive() {
		arrow = "📈 up"
	}

	start := "N/A"
	if note.StartPrice.IsPositive() {
		start = note.StartPrice.StringFixed(4)
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("🚨 Price move alert (%s)\n", note.Kind.Label()))
	builder.WriteString(fmt.Sprintf("• Symbol: %s\n", note.Symbol))
	builder.WriteString(fmt.Sprintf("• Window: %dmin (threshold: %s%%)\n", note.WindowMinutes, note.ThresholdPct.String()))
	builder.WriteString(fmt.Sprintf("• Change: %s %s%%\n", arrow, note.ChangePct.Abs().StringFixed(2)))
	builder.WriteString(fmt.Sprintf("• Start price: $%s\n", start))
	builder.WriteString(fmt.Sprintf("• Current price: $%s\n", note.CurrentPrice.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("• Time: %s UTC", note.At.UTC().Format("2006-01-02 15:04:05")))
	return builder.String()
}

func classifyChange(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

var _ Notifier = (*ChatNotifier)(nil)
