package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"referralbot/internal/journal"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyBroadcast is returned for a broadcast without text
var ErrEmptyBroadcast = errors.New("broadcast message is empty")

// ErrUnknownAudience is returned for an audience other than users or groups
var ErrUnknownAudience = errors.New("unknown broadcast audience")

// broadcastButton is a button operators can attach to a broadcast by key
type broadcastButton struct {
	label    string
	url      string
	callback string
}

// BroadcastResult summarizes one broadcast
type BroadcastResult struct {
	ID        uuid.UUID
	Total     int
	Succeeded int
	Failed    int
}

func (b *Bot) broadcastButtons() map[string]broadcastButton {
	signup := broadcastButton{label: "🆕 Create Account", url: b.settings.SignupURL}
	return map[string]broadcastButton{
		"create_account": signup,
		"signup":         signup,
		"join_campaign":  {label: "🎯 Join Campaign", callback: callbackJoinCampaign},
		"follow_x":       {label: "🐦 Follow our X", url: b.settings.XURL},
		"community":      {label: "💬 Join Telegram Community", url: b.settings.CommunityURL},
		"sell_usdt":      {label: "💸 Sell USDT", url: b.settings.SignupURL},
		"buy_usdt":       {label: "🟢 Buy USDT", url: b.settings.SignupURL},
		"main_menu":      {label: "🏠 Main Menu", callback: callbackMainMenu},
		"leaderboard":    {label: "🏆 Leaderboard", callback: callbackLeaderboard},
	}
}

// BroadcastKeyboard builds one row per known button key, in the given order.
// Unknown and repeated keys are dropped; the kept keys are returned alongside.
func (b *Bot) BroadcastKeyboard(keys []string) (*tgbotapi.InlineKeyboardMarkup, []string) {
	buttons := b.broadcastButtons()
	seen := make(map[string]bool, len(keys))

	var rows [][]tgbotapi.InlineKeyboardButton
	var kept []string
	for _, raw := range keys {
		key := strings.ToLower(strings.TrimSpace(raw))
		btn, ok := buttons[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, key)
		if btn.url != "" {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(btn.label, btn.url)))
		} else {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btn.label, btn.callback)))
		}
	}

	if len(rows) == 0 {
		return nil, nil
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard, kept
}

// Broadcast sends text to every recipient of the audience concurrently and waits for all attempts.
// Each recipient gets exactly one attempt; per-recipient failures only count towards Failed.
func (b *Bot) Broadcast(ctx context.Context, audience journal.Audience, text string, keys []string) (BroadcastResult, error) {
	if strings.TrimSpace(text) == "" {
		return BroadcastResult{}, ErrEmptyBroadcast
	}

	recipients, err := b.recipients(ctx, audience)
	if err != nil {
		return BroadcastResult{}, err
	}

	keyboard, kept := b.BroadcastKeyboard(keys)
	result := BroadcastResult{ID: uuid.New(), Total: len(recipients)}
	startedAt := time.Now()

	b.logger.Info("Starting broadcast",
		zap.String("broadcast_id", result.ID.String()),
		zap.String("audience", string(audience)),
		zap.Int("recipients", len(recipients)),
	)

	errs := make([]error, len(recipients))
	var wg sync.WaitGroup
	for idx, chatID := range recipients {
		wg.Add(1)
		go func(idx int, chatID int64) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[idx] = fmt.Errorf("panic: %v", r)
				}
			}()

			msg := tgbotapi.NewMessage(chatID, text)
			if keyboard != nil {
				msg.ReplyMarkup = *keyboard
			}
			errs[idx] = b.send(msg).Err
		}(idx, chatID)
	}
	wg.Wait()

	for idx, err := range errs {
		if err != nil {
			result.Failed++
			b.logger.Debug("Broadcast delivery failed",
				zap.String("broadcast_id", result.ID.String()),
				zap.Int64("chat_id", recipients[idx]),
				zap.String("description", errorDescription(err)),
			)
			continue
		}
		result.Succeeded++
	}

	duration := time.Since(startedAt)
	b.logger.Info("Broadcast finished",
		zap.String("broadcast_id", result.ID.String()),
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", duration),
	)

	rec := journal.BroadcastRecord{
		ID:        result.ID,
		Audience:  audience,
		Message:   text,
		Buttons:   kept,
		Total:     result.Total,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		StartedAt: startedAt,
		Duration:  duration,
	}
	if err := b.journal.RecordBroadcast(context.WithoutCancel(ctx), rec); err != nil {
		b.logger.Warn("Failed to journal broadcast", zap.Error(err), zap.String("broadcast_id", result.ID.String()))
	}

	return result, nil
}

// recipients loads the chat ids of an audience
func (b *Bot) recipients(ctx context.Context, audience journal.Audience) ([]int64, error) {
	switch audience {
	case journal.AudienceUsers:
		ids, err := b.db.ListUserChatIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load user recipients: %w", err)
		}
		return ids, nil
	case journal.AudienceGroups:
		groups, err := b.db.ListGroups(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load group recipients: %w", err)
		}
		ids := make([]int64, 0, len(groups))
		for _, g := range groups {
			ids = append(ids, g.ID)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAudience, audience)
	}
}

// RecentBroadcasts returns the latest journaled broadcasts, newest first
func (b *Bot) RecentBroadcasts(ctx context.Context, limit int) ([]journal.BroadcastRecord, error) {
	return b.journal.RecentBroadcasts(ctx, limit)
}
