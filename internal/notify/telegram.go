package notify

import (
	"binance-futures-bot-go/internal/config"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers human-readable lifecycle alerts. Implementations must be
// safe for concurrent use; every fill-poller and monitoring loop may call it.
type Notifier interface {
	Notify(text string)
}

// TelegramNotifier sends HTML-formatted messages to a configured chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier creates a notifier backed by the Telegram bot API.
func NewTelegramNotifier(cfg *config.Telegram, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	logger.Info("Telegram notifier initialized", zap.String("bot", bot.Self.UserName))

	return &TelegramNotifier{
		bot:    bot,
		chatID: cfg.ChatID,
		logger: logger,
	}, nil
}

// Notify sends the message. Delivery failures are logged, never propagated:
// a dropped alert must not disturb the trade lifecycle.
func (n *TelegramNotifier) Notify(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("Failed to send Telegram message", zap.Error(err))
	}
}

// LogNotifier writes alerts to the application log. Used when no Telegram
// credentials are configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

// Notify logs the alert text.
func (n *LogNotifier) Notify(text string) {
	n.logger.Info(text)
}
