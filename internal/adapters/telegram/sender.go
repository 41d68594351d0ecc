package telegram

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-news-engine/internal/infra/metrics"
)

// BotAPI — часть клиента бота, нужная для отправки.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender отправляет HTML-сообщения, разбивая длинные тексты.
type Sender struct {
	bot BotAPI
	log zerolog.Logger
}

// NewSender создаёт отправителя.
func NewSender(bot BotAPI, logger zerolog.Logger) *Sender {
	return &Sender{bot: bot, log: logger.With().Str("component", "telegram_sender").Logger()}
}

// SendHTML отправляет текст в чат. Останавливается на первой ошибке.
func (s *Sender) SendHTML(ctx context.Context, chatID int64, text string) error {
	for _, part := range SplitMessage(text, MessageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := s.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			s.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось отправить сообщение")
			return err
		}
	}
	return nil
}
