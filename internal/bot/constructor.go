package bot

import (
	"fmt"

	"referralbot/internal/journal"
	"referralbot/internal/session"
	"referralbot/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// NewBot creates a new Telegram bot
func NewBot(token string, db storage.Storage, sessions session.Store, j journal.Journal, settings Settings, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	b := newBot(api, api.Self, db, sessions, j, settings, logger)
	b.updater = api
	return b, nil
}

// newBot wires a bot around any API implementation
func newBot(api API, self tgbotapi.User, db storage.Storage, sessions session.Store, j journal.Journal, settings Settings, logger *zap.Logger) *Bot {
	if j == nil {
		j = journal.NewMemory(0)
	}
	if sessions == nil {
		sessions = session.NewMemory()
	}
	b := &Bot{
		api:      api,
		self:     self,
		db:       db,
		sessions: sessions,
		journal:  j,
		settings: settings,
		logger:   logger,
	}
	b.registerHandlers()
	return b
}

// Username returns the bot's Telegram username, used in referral links
func (b *Bot) Username() string {
	return b.self.UserName
}
