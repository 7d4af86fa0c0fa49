package bot

import (
	"referralbot/internal/journal"
	"referralbot/internal/session"
	"referralbot/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// API is the subset of the Telegram Bot API the handlers call
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
}

// Updater receives updates in polling mode and reports webhook state
type Updater interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetWebhookInfo() (tgbotapi.WebhookInfo, error)
}

// Settings holds the operator and campaign options of the bot
type Settings struct {
	OperatorPassword string
	// OperatorChatID receives configuration problem reports; zero disables them
	OperatorChatID int64

	// CommunityChatID is a numeric chat id or an @username
	CommunityChatID          string
	CommunityURL             string
	XURL                     string
	SignupURL                string
	MinLocalCoinSwapIDLength int
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api      API
	updater  Updater
	self     tgbotapi.User
	db       storage.Storage
	sessions session.Store
	journal  journal.Journal
	settings Settings
	logger   *zap.Logger

	commands  map[string]command
	callbacks map[string]callbackHandler
}
