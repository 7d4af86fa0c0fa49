package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var errNoUpdater = errors.New("bot has no update source")

// Start runs the bot in polling mode until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	if b.updater == nil {
		return errNoUpdater
	}

	b.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	if res := b.request(tgbotapi.DeleteWebhookConfig{}); !res.OK() {
		b.logger.Warn("Failed to delete webhook", zap.Error(res.Err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.updater.GetUpdatesChan(u)

	b.logger.Info("Bot started successfully. Waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.updater.StopReceivingUpdates()
			b.logger.Info("Stopped polling for updates")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			// Updates are independent; a slow one must not hold up the rest
			go b.HandleUpdate(context.Background(), update)
		}
	}
}

// StartWebhook registers the webhook URL with Telegram
func (b *Bot) StartWebhook(webhookURL string) error {
	host := webhookURL
	if parsed, err := url.Parse(webhookURL); err == nil {
		host = parsed.Host
	}
	b.logger.Info("Setting up webhook", zap.String("host", host))

	webhookConfig, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("failed to build webhook config: %w", err)
	}
	webhookConfig.MaxConnections = 40

	if res := b.request(webhookConfig); !res.OK() {
		b.logger.Error("Failed to set webhook", zap.Error(res.Err), zap.String("host", host))
		return fmt.Errorf("failed to set webhook: %w", res.Err)
	}

	if b.updater == nil {
		return nil
	}

	// Get webhook info to verify
	info, err := b.updater.GetWebhookInfo()
	if err != nil {
		b.logger.Warn("Failed to get webhook info", zap.Error(err))
	} else {
		b.logger.Info("Webhook set successfully",
			zap.Int("pending_updates", info.PendingUpdateCount),
			zap.String("last_error", info.LastErrorMessage),
		)
	}

	b.logger.Info("Bot configured for webhook mode")
	return nil
}
