// Package telegram mirrors user notices into a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/imagify/internal/notify"
)

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	sender Sender
	chatID int64
	log    *slog.Logger
}

// NewBot connects to the Bot API with token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return api, nil
}

func NewNotifier(sender Sender, chatID int64, log *slog.Logger) *Notifier {
	return &Notifier{sender: sender, chatID: chatID, log: log}
}

// Notify sends n to the chat. Delivery failures are logged and dropped.
func (n *Notifier) Notify(_ context.Context, notice notify.Notice) {
	msg := tgbotapi.NewMessage(n.chatID, formatNotice(notice))
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil && n.log != nil {
		n.log.Error("send telegram notice", "chat_id", n.chatID, "err", err)
	}
}

func formatNotice(n notify.Notice) string {
	switch n.Level {
	case notify.LevelSuccess:
		return "✅ " + n.Message
	case notify.LevelError:
		return "⚠️ " + n.Message
	default:
		return "ℹ️ " + n.Message
	}
}
