package bot

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"referralbot/internal/journal"
	"referralbot/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var (
	errNotAuthenticated = errors.New("operator is not authenticated")
	errWrongPassword    = errors.New("wrong operator password")
	errSendFormat       = errors.New("send needs a target and a message")
	errSendTarget       = errors.New("send target is neither a chat id nor an @username")
	errEmptyMessage     = errors.New("message text is empty")
)

const operatorHelp = "*Operator commands:*\n" +
	"/send `[ID] [message]` - send a message to a chat or @channel\n" +
	"/listgroups - list the groups I was added to\n" +
	"/message `[text]` - send a message to every group\n" +
	"/getid - show the current chat id\n" +
	"/logout - lock the operator commands again"

// handleGetID reports the id of the current chat
func (b *Bot) handleGetID(req *request) Result {
	chat := req.message.Chat
	from := req.message.From

	if chat.IsPrivate() {
		return sent(b.replyMarkdown(chat.ID, fmt.Sprintf("This is your private chat. Your user ID is: `%d`", chat.ID), nil))
	}

	dm := b.replyMarkdown(from.ID, fmt.Sprintf("The ID for the group \"%s\" is: `%d`", md(chat.Title), chat.ID), nil)
	if dm.OK() {
		return sent(b.reply(chat.ID, fmt.Sprintf("Hi %s, I've sent you the group ID in a private message.", from.FirstName)))
	}

	b.logger.Info("Private reply for /getid failed, answering in group",
		zap.Int64("chat_id", chat.ID),
		zap.Int64("user_id", from.ID),
	)
	return sent(b.reply(chat.ID, fmt.Sprintf(
		"Hi %s, I couldn't send you a private message. Please start a chat with me first and try again! This group's ID is %d.",
		from.FirstName, chat.ID,
	)))
}

// handleLogin starts the password prompt
func (b *Bot) handleLogin(req *request) Result {
	if req.session == session.Authenticated {
		return sent(b.reply(req.chatID(), "✅ You are already logged in."))
	}
	if err := b.sessions.Set(req.ctx, req.userID(), session.AwaitingPassword); err != nil {
		b.logger.Error("Failed to store operator session", zap.Error(err), zap.Int64("user_id", req.userID()))
		return b.storageFailure(req.chatID(), err)
	}
	return sent(b.reply(req.chatID(), "🔒 Please enter the password to unlock the operator commands."))
}

// handleLogout drops the operator session
func (b *Bot) handleLogout(req *request) Result {
	if err := b.sessions.Clear(req.ctx, req.userID()); err != nil {
		b.logger.Error("Failed to clear operator session", zap.Error(err), zap.Int64("user_id", req.userID()))
		return b.storageFailure(req.chatID(), err)
	}
	return sent(b.reply(req.chatID(), "👋 Logged out. Send /login to unlock the operator commands again."))
}

// handlePassword checks a password typed after /login
func (b *Bot) handlePassword(req *request) Result {
	if !b.passwordMatches(req.message.Text) {
		b.logger.Warn("Failed operator login attempt", zap.Int64("user_id", req.userID()))
		b.reply(req.chatID(), "🔒 Please enter the correct password to access this bot. Send /logout to cancel.")
		return failed(KindValidation, errWrongPassword)
	}

	if err := b.sessions.Set(req.ctx, req.userID(), session.Authenticated); err != nil {
		b.logger.Error("Failed to store operator session", zap.Error(err), zap.Int64("user_id", req.userID()))
		return b.storageFailure(req.chatID(), err)
	}

	// Keep the password out of the chat history
	b.request(tgbotapi.NewDeleteMessage(req.chatID(), req.message.MessageID))

	b.logger.Info("Operator authenticated", zap.Int64("user_id", req.userID()))
	return sent(b.replyMarkdown(req.chatID(), "✅ Password accepted! You can now use the bot.\n\n"+operatorHelp, nil))
}

func (b *Bot) passwordMatches(text string) bool {
	if b.settings.OperatorPassword == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(text), []byte(b.settings.OperatorPassword)) == 1
}

// handleLocked answers operator commands sent without a session
func (b *Bot) handleLocked(req *request) Result {
	b.reply(req.chatID(), "🔒 This command is for operators only. Send /login and enter the password first.")
	return failed(KindUnauthorized, errNotAuthenticated)
}

// handleSend relays a message to any chat: /send <id|@channel> <text>
func (b *Bot) handleSend(req *request) Result {
	args := strings.TrimSpace(req.message.CommandArguments())
	fields := strings.Fields(args)
	if len(fields) < 2 {
		b.replyMarkdown(req.chatID(), "Invalid format. Please use: `/send [ID] [your message]`", nil)
		return failed(KindValidation, errSendFormat)
	}

	target := fields[0]
	text := strings.TrimSpace(strings.TrimPrefix(args, target))

	msg, err := relayMessage(target, text)
	if err != nil {
		b.replyMarkdown(req.chatID(), "Invalid target. Use a numeric chat ID or an @channel username: `/send [ID] [your message]`", nil)
		return failed(KindValidation, err)
	}

	res := b.send(msg)
	if !res.OK() {
		b.reply(req.chatID(), fmt.Sprintf(
			"❌ Failed to send message. The bot might not be in that group, or the ID is incorrect.\nError: %s",
			errorDescription(res.Err),
		))
		return failed(KindTransport, res.Err)
	}

	b.logger.Info("Relayed operator message", zap.String("target", target), zap.Int64("operator_id", req.userID()))
	return sent(b.reply(req.chatID(), fmt.Sprintf("✅ Message successfully sent to %s.", target)))
}

// relayMessage addresses text to a numeric chat id or a public @username
func relayMessage(target, text string) (tgbotapi.MessageConfig, error) {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text), nil
	}
	if strings.HasPrefix(target, "@") && len(target) > 1 {
		return tgbotapi.NewMessageToChannel(target, text), nil
	}
	return tgbotapi.MessageConfig{}, fmt.Errorf("%w: %q", errSendTarget, target)
}

// handleListGroups lists known groups and whether the bot administers them
func (b *Bot) handleListGroups(req *request) Result {
	groups, err := b.db.ListGroups(req.ctx)
	if err != nil {
		b.logger.Error("Failed to list groups", zap.Error(err))
		return b.storageFailure(req.chatID(), err)
	}

	if len(groups) == 0 {
		return sent(b.reply(req.chatID(), "I haven't been added to any groups yet."))
	}

	var sb strings.Builder
	sb.WriteString("📋 *Groups I know about:*\n\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "• %s\n  ID: `%d`, admin: %s\n", md(g.Title), g.ID, b.adminStatus(g.ID))
	}
	return sent(b.replyMarkdown(req.chatID(), sb.String(), nil))
}

// adminStatus asks Telegram whether the bot is an administrator of a chat
func (b *Bot) adminStatus(chatID int64) string {
	admins, err := b.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		b.logger.Debug("Failed to load chat administrators",
			zap.Int64("chat_id", chatID),
			zap.String("description", errorDescription(err)),
		)
		return "unknown"
	}
	for _, admin := range admins {
		if admin.User != nil && admin.User.ID == b.self.ID {
			return "yes"
		}
	}
	return "no"
}

// handleGroupMessage sends one message to every known group
func (b *Bot) handleGroupMessage(req *request) Result {
	text := strings.TrimSpace(req.message.CommandArguments())
	if text == "" {
		b.replyMarkdown(req.chatID(), "Usage: `/message [text]`", nil)
		return failed(KindValidation, errEmptyMessage)
	}

	res, err := b.Broadcast(req.ctx, journal.AudienceGroups, text, nil)
	if err != nil {
		return b.storageFailure(req.chatID(), err)
	}

	return sent(b.reply(req.chatID(), fmt.Sprintf(
		"📣 Message delivered to %d of %d groups (%d failed).",
		res.Succeeded, res.Total, res.Failed,
	)))
}

// handleEcho is the authenticated operator's fallback
func (b *Bot) handleEcho(req *request) Result {
	return sent(b.reply(req.chatID(), fmt.Sprintf("You said: \"%s\"", req.message.Text)))
}
