package models

import "time"

// Stage is the persisted campaign onboarding step of a user
type Stage string

const (
	StageIdle                    Stage = "idle"
	StageAwaitingTwitter         Stage = "awaiting_twitter"
	StageAwaitingMembership      Stage = "awaiting_membership_check"
	StageAwaitingLocalCoinSwapID Stage = "awaiting_localcoinswap_id"
	StageActive                  Stage = "active"
)

// Valid reports whether s is one of the known stages
func (s Stage) Valid() bool {
	switch s {
	case StageIdle, StageAwaitingTwitter, StageAwaitingMembership, StageAwaitingLocalCoinSwapID, StageActive:
		return true
	}
	return false
}

// User represents a Telegram end-user the bot has interacted with
type User struct {
	ID              int64     `json:"id"`
	ChatID          int64     `json:"chat_id"`
	Username        string    `json:"username,omitempty"`
	DisplayName     string    `json:"display_name"`
	Stage           Stage     `json:"stage"`
	XHandle         string    `json:"x_handle,omitempty"`
	IsMember        bool      `json:"is_member"`
	LocalCoinSwapID string    `json:"localcoinswap_id,omitempty"`
	ReferralCode    string    `json:"referral_code,omitempty"`
	ReferredBy      *int64    `json:"referred_by,omitempty"`
	ReferralCount   int       `json:"referral_count"`
	JoinedAt        time.Time `json:"joined_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Profile is the subset of a user that is refreshed from Telegram on every contact
type Profile struct {
	ID          int64
	ChatID      int64
	Username    string
	DisplayName string
}

// Group represents a group or supergroup the bot was added to
type Group struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	AddedAt time.Time `json:"added_at"`
}

// LeaderboardEntry is one row of the referral ranking
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	UserID        int64  `json:"user_id"`
	Username      string `json:"username,omitempty"`
	DisplayName   string `json:"display_name"`
	ReferralCount int    `json:"referral_count"`
}

// Registration is the outcome of a completed campaign registration
type Registration struct {
	User       User
	ReferrerID *int64
}
