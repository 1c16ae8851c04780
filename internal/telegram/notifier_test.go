package telegram

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/imagify/internal/notify"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestNotifierSendsToChat(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 42, nil)

	notify.Success(context.Background(), n, "Credits added. Balance: 25")
	notify.Error(context.Background(), n, "Session expired. Please log in again.")

	if len(sender.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sender.sent))
	}
	if sender.sent[0].ChatID != 42 {
		t.Errorf("chat id = %d", sender.sent[0].ChatID)
	}
	if sender.sent[0].Text != "✅ Credits added. Balance: 25" {
		t.Errorf("text = %q", sender.sent[0].Text)
	}
	if !strings.HasSuffix(sender.sent[1].Text, "Session expired. Please log in again.") {
		t.Errorf("text = %q", sender.sent[1].Text)
	}
}

func TestNotifierLogsSendFailure(t *testing.T) {
	var buf bytes.Buffer
	sender := &fakeSender{err: errors.New("forbidden")}
	n := NewNotifier(sender, 42, slog.New(slog.NewJSONHandler(&buf, nil)))

	notify.Info(context.Background(), n, "Payment cancelled.")

	if !strings.Contains(buf.String(), "forbidden") {
		t.Errorf("log output = %s", buf.String())
	}
}
