package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender is the part of *tgbotapi.BotAPI the mirror uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramMirror copies every outgoing message to an ops chat.
type TelegramMirror struct {
	bot    TelegramSender
	chatID int64
}

func NewTelegramMirror(bot TelegramSender, chatID int64) *TelegramMirror {
	return &TelegramMirror{bot: bot, chatID: chatID}
}

// NewTelegramBot logs in with token.
func NewTelegramBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

func (m *TelegramMirror) Send(ctx context.Context, phone, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(m.chatID, fmt.Sprintf("📨 %s\n%s", phone, body))
	msg.DisableWebPagePreview = true
	_, err := m.bot.Send(msg)
	return err
}
