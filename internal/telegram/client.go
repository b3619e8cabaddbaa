// Package telegram adapts the Telegram Bot API to the chat channel used for
// alerts and operator commands.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Message is an inbound text message.
type Message struct {
	UpdateID int
	ChatID   int64
	Username string
	Text     string
}

// Options configure the client.
type Options struct {
	Token       string
	APIEndpoint string
	HTTPClient  *http.Client
}

// Client sends messages and long-polls for updates.
type Client struct {
	api    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// NewClient authenticates against the Bot API (getMe) and returns a client.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 40 * time.Second}
	}

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot api: %w", err)
	}

	log := logger.With().Str("component", "telegram").Logger()
	log.Info().Str("bot", api.Self.UserName).Msg("telegram bot authorized")
	return &Client{api: api, logger: log}, nil
}

// Send delivers text to chatID, attaching a reply keyboard when rows are given.
func (c *Client) Send(ctx context.Context, chatID int64, text string, keyboard [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if len(keyboard) > 0 {
		msg.ReplyMarkup = replyKeyboard(keyboard)
	}
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	c.logger.Debug().Int64("chat_id", chatID).Msg("message sent")
	return nil
}

// Updates long-polls for updates after offset and returns the text messages
// together with the offset that acknowledges everything returned.
func (c *Client) Updates(ctx context.Context, offset int, timeout time.Duration) ([]Message, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, offset, err
	}

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(timeout / time.Second)
	updates, err := c.api.GetUpdates(cfg)
	if err != nil {
		return nil, offset, fmt.Errorf("telegram get updates: %w", err)
	}

	next := offset
	messages := make([]Message, 0, len(updates))
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
		if u.Message == nil || u.Message.Chat == nil {
			continue
		}
		msg := Message{
			UpdateID: u.UpdateID,
			ChatID:   u.Message.Chat.ID,
			Text:     u.Message.Text,
		}
		if u.Message.From != nil {
			msg.Username = u.Message.From.UserName
		}
		messages = append(messages, msg)
	}
	return messages, next, nil
}

func replyKeyboard(layout [][]string) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(layout))
	for _, row := range layout {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, buttons)
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.OneTimeKeyboard = true
	return kb
}
