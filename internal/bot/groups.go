package bot

import (
	"context"

	"referralbot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleNewChatMembers registers a group when the bot itself is among the new members
func (b *Bot) handleNewChatMembers(ctx context.Context, message *tgbotapi.Message) Result {
	for _, member := range message.NewChatMembers {
		if member.ID != b.self.ID {
			continue
		}
		if err := b.rememberGroup(ctx, message.Chat.ID, message.Chat.Title); err != nil {
			return failed(KindStorage, err)
		}
		return sent(b.reply(message.Chat.ID, "👋 Thanks for adding me! An admin can use /getid to get this group's ID."))
	}
	return ignored()
}

// handleMyChatMember tracks the bot's own membership changes in groups
func (b *Bot) handleMyChatMember(ctx context.Context, update *tgbotapi.ChatMemberUpdated) Result {
	chat := update.Chat
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return ignored()
	}

	switch update.NewChatMember.Status {
	case "member", "administrator":
		if err := b.rememberGroup(ctx, chat.ID, chat.Title); err != nil {
			return failed(KindStorage, err)
		}
		return handled()
	default:
		// Removed groups stay listed; broadcasts to them simply fail
		b.logger.Info("Bot membership changed",
			zap.Int64("chat_id", chat.ID),
			zap.String("status", update.NewChatMember.Status),
		)
		return ignored()
	}
}

func (b *Bot) rememberGroup(ctx context.Context, chatID int64, title string) error {
	if err := b.db.UpsertGroup(ctx, models.Group{ID: chatID, Title: title}); err != nil {
		b.logger.Error("Failed to store group", zap.Error(err), zap.Int64("chat_id", chatID))
		return err
	}
	b.logger.Info("Group registered", zap.Int64("chat_id", chatID), zap.String("title", title))
	return nil
}
