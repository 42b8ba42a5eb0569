package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender: часть tgbotapi.BotAPI, нужная шлюзу.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramGateway отправляет уведомления в чат Telegram.
type TelegramGateway struct {
	bot TelegramSender
}

// NewTelegramGateway создаёт шлюз поверх готового клиента бота.
func NewTelegramGateway(bot TelegramSender) *TelegramGateway {
	return &TelegramGateway{bot: bot}
}

// NewTelegramBot создаёт клиента Bot API по токену.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

// Push отправляет сообщение в чат chatID.
func (g *TelegramGateway) Push(ctx context.Context, chatID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	text := msg.Title
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	if _, err := g.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
