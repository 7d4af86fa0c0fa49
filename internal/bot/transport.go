package bot

import (
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// SendResult is the outcome of one outbound Telegram call
type SendResult struct {
	Message tgbotapi.Message
	Err     error
}

// OK reports whether the call succeeded
func (r SendResult) OK() bool {
	return r.Err == nil
}

// send delivers a message-producing request. Failures are logged here; callers decide what to tell the user.
func (b *Bot) send(c tgbotapi.Chattable) SendResult {
	msg, err := b.api.Send(c)
	if err != nil {
		b.logger.Warn("Failed to send message",
			zap.String("request", fmt.Sprintf("%T", c)),
			zap.String("description", errorDescription(err)),
		)
		return SendResult{Err: err}
	}
	return SendResult{Message: msg}
}

// request performs a call whose response is not a message (callback answers, webhook setup)
func (b *Bot) request(c tgbotapi.Chattable) SendResult {
	if _, err := b.api.Request(c); err != nil {
		b.logger.Warn("Telegram request failed",
			zap.String("request", fmt.Sprintf("%T", c)),
			zap.String("description", errorDescription(err)),
		)
		return SendResult{Err: err}
	}
	return SendResult{}
}

// reply sends plain text
func (b *Bot) reply(chatID int64, text string) SendResult {
	return b.send(tgbotapi.NewMessage(chatID, text))
}

// replyMarkdown sends Markdown text with an optional inline keyboard
func (b *Bot) replyMarkdown(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) SendResult {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	return b.send(msg)
}

// errorDescription returns Telegram's own error description when there is one
func errorDescription(err error) string {
	if err == nil {
		return ""
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Message != "" {
		return tgErr.Message
	}
	return err.Error()
}

// md escapes user-provided text for Markdown messages
func md(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, text)
}
