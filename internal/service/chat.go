package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/conversation"
	"pricewatch/internal/telegram"
)

// ChatChannel is the pull and push side of the operator chat.
type ChatChannel interface {
	Updates(ctx context.Context, offset int, timeout time.Duration) ([]telegram.Message, int, error)
	Send(ctx context.Context, chatID int64, text string, keyboard [][]string) error
}

// Dialog answers one inbound message.
type Dialog interface {
	Handle(chatID int64, text string) conversation.Reply
}

// ChatOptions tune the command loop.
type ChatOptions struct {
	PollTimeout  time.Duration
	PollPause    time.Duration
	ErrorBackoff time.Duration
}

// ChatLoop long-polls the chat channel and routes messages through the dialog.
type ChatLoop struct {
	opts    ChatOptions
	channel ChatChannel
	dialog  Dialog
	logger  zerolog.Logger
	offset  int
}

// NewChatLoop constructs the command loop.
func NewChatLoop(opts ChatOptions, channel ChatChannel, dialog Dialog, logger zerolog.Logger) *ChatLoop {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if opts.PollPause <= 0 {
		opts.PollPause = time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 5 * time.Second
	}
	return &ChatLoop{
		opts:    opts,
		channel: channel,
		dialog:  dialog,
		logger:  logger.With().Str("component", "chat_loop").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (c *ChatLoop) Run(ctx context.Context) error {
	c.logger.Info().Dur("poll_timeout", c.opts.PollTimeout).Msg("command loop started")
	for {
		pause := c.opts.PollPause
		if err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Dur("backoff", c.opts.ErrorBackoff).Msg("poll failed")
			pause = c.opts.ErrorBackoff
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Poll performs one long-poll and handles every returned message in order.
// The offset advances past all consumed updates even when a reply fails.
func (c *ChatLoop) Poll(ctx context.Context) error {
	messages, next, err := c.channel.Updates(ctx, c.offset, c.opts.PollTimeout)
	if err != nil {
		return err
	}
	c.offset = next

	for _, msg := range messages {
		if msg.Text == "" {
			continue
		}
		log := c.logger.With().Int64("chat_id", msg.ChatID).Str("username", msg.Username).Int("update_id", msg.UpdateID).Logger()
		log.Debug().Str("text", msg.Text).Msg("message received")

		reply := c.dialog.Handle(msg.ChatID, msg.Text)
		if reply.Text == "" {
			continue
		}
		if err := c.channel.Send(ctx, msg.ChatID, reply.Text, reply.Keyboard); err != nil {
			log.Error().Err(err).Msg("failed to send reply")
		}
	}
	return nil
}

// Offset returns the next update offset to request.
func (c *ChatLoop) Offset() int { return c.offset }
