package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"teamplan/internal/models"
)

// TelegramSender delivers resolution notices through the Telegram bot API.
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramSender(bot *tgbotapi.BotAPI) *TelegramSender {
	return &TelegramSender{bot: bot}
}

// SendResolution sends a short notice about the decided change request.
func (t *TelegramSender) SendResolution(_ context.Context, chatID int64, req models.ChangeRequest) error {
	var verdict string
	switch req.State {
	case models.RequestApproved:
		verdict = "approved"
	case models.RequestRejected:
		verdict = "rejected"
	default:
		verdict = string(req.State)
	}

	text := fmt.Sprintf(
		"Schedule change %s:\n%s – %s",
		verdict,
		req.NewStart.Format("Mon, 02 Jan 15:04"),
		req.NewEnd.Format("15:04"),
	)
	if req.NewContent != nil && *req.NewContent != "" {
		text += "\n" + *req.NewContent
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send resolution notice: %w", err)
	}
	return nil
}
