package notify

import (
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier pushes alert notifications to a Telegram chat. This is
// the "permission granted" channel: constructing it validates the bot token
// against the API, so an instance that exists is one that may send.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegramNotifier creates a notifier for the given bot token and chat.
func NewTelegramNotifier(botToken, chatID string, log *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &TelegramNotifier{bot: bot, chatID: chatIDInt, log: log}, nil
}

// Notify sends one alert message. Failures are logged and dropped; the
// caller never retries.
func (n *TelegramNotifier) Notify(ticker string, proba float64) {
	msg := tgbotapi.NewMessage(n.chatID, "ARA Alert\n"+Message(ticker, proba))
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn("telegram notification failed", "ticker", ticker, "error", err)
	}
}
