package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends audit reports to the configured report chats.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
}

func NewTelegramNotifier(bot *tgbotapi.BotAPI, chatIDs []int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatIDs: chatIDs}
}

// SendDocument uploads the report to every report chat.
func (t *TelegramNotifier) SendDocument(_ context.Context, filename string, data io.Reader, caption string) error {
	payload, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	var lastErr error
	for _, chatID := range t.chatIDs {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{
			Name:   filename,
			Reader: bytes.NewReader(payload),
		})
		doc.Caption = caption
		if _, err := t.bot.Send(doc); err != nil {
			lastErr = fmt.Errorf("send report to chat %d: %w", chatID, err)
		}
	}
	return lastErr
}
