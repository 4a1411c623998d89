// Package telegram adapts the Telegram Bot API to the service layer: plain
// message delivery, Stars invoices and refunds, and Mini App login checks.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client owns the bot connection shared by Sender and StarsGateway.
type Client struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// New authorises the bot token against the API.
func New(token string, logger *slog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorise bot: %w", err)
	}
	logger = logger.With("component", "telegram")
	logger.Info("telegram bot authorised", "username", bot.Self.UserName)
	return &Client{bot: bot, logger: logger}, nil
}

// Sender delivers plain-text messages to a user's private chat.
type Sender struct {
	c *Client
}

// NewSender returns a Sender backed by c.
func NewSender(c *Client) *Sender {
	return &Sender{c: c}
}

// Send posts text to the chat with the user. In private chats the chat id
// equals the user id.
func (s *Sender) Send(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(userID, text)
	if _, err := s.c.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram.Send: user %d: %w", userID, err)
	}
	return nil
}
