package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrMembershipLookup means Telegram could not answer the membership question,
// usually because the bot has no access to the community chat
var ErrMembershipLookup = errors.New("membership lookup failed")

// MembershipStatus is the answer of one membership check
type MembershipStatus struct {
	Status   string
	IsMember bool
}

// VerifyMembership asks Telegram whether a user belongs to the community chat
func (b *Bot) VerifyMembership(ctx context.Context, userID int64) (MembershipStatus, error) {
	if err := ctx.Err(); err != nil {
		return MembershipStatus{}, err
	}

	member, err := b.api.GetChatMember(communityMemberConfig(b.settings.CommunityChatID, userID))
	if err != nil {
		return MembershipStatus{}, fmt.Errorf("%w: %w", ErrMembershipLookup, err)
	}

	return MembershipStatus{
		Status:   member.Status,
		IsMember: isMemberStatus(member.Status),
	}, nil
}

// isMemberStatus treats restricted, left and kicked users as non-members
func isMemberStatus(status string) bool {
	switch status {
	case "creator", "administrator", "member":
		return true
	}
	return false
}

// communityMemberConfig addresses the community by numeric id or by @username
func communityMemberConfig(chat string, userID int64) tgbotapi.GetChatMemberConfig {
	cfg := tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{UserID: userID},
	}
	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		cfg.ChatID = id
	} else {
		cfg.SuperGroupUsername = "@" + strings.TrimPrefix(chat, "@")
	}
	return cfg
}
