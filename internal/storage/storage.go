package storage

import (
	"context"
	"errors"

	"referralbot/internal/models"
)

var (
	// ErrNotFound is returned when a user or referral code does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique value (LocalCoinSwap id, referral code) is already taken
	ErrConflict = errors.New("already registered")
	// ErrStageMismatch is returned when a stage-guarded update finds the user in another stage
	ErrStageMismatch = errors.New("user is not in the expected stage")
)

// Storage defines the interface for data storage operations
type Storage interface {
	// User operations

	// UpsertUser creates the user on first contact or refreshes username and display name.
	// JoinedAt, stage and campaign data are never touched by an upsert.
	UpsertUser(ctx context.Context, profile models.Profile) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	// ListUsers returns all users, newest first
	ListUsers(ctx context.Context) ([]models.User, error)
	ListUserChatIDs(ctx context.Context) ([]int64, error)

	// Campaign operations

	// SetReferrer records who referred the user. It is a no-op (false) when a referrer is already
	// set, when referrerID is the user itself, or when the user already completed registration.
	SetReferrer(ctx context.Context, userID, referrerID int64) (bool, error)
	// ResetStage moves an in-progress user back to idle; active users are left alone
	ResetStage(ctx context.Context, userID int64) error
	// BeginCampaign moves an idle user to awaiting_twitter
	BeginCampaign(ctx context.Context, userID int64) error
	// SaveXHandle stores the handle and moves awaiting_twitter to awaiting_membership_check
	SaveXHandle(ctx context.Context, userID int64, handle string) error
	// SetMembership stores the last membership result; members in awaiting_membership_check
	// advance to awaiting_localcoinswap_id
	SetMembership(ctx context.Context, userID int64, isMember bool) error
	// CompleteRegistration stores the LocalCoinSwap id and referral code, activates the user and
	// credits the referrer, all at once. Returns ErrConflict if the id or code is taken.
	CompleteRegistration(ctx context.Context, userID int64, localCoinSwapID, referralCode string) (*models.Registration, error)
	// Leaderboard ranks active users by referral count, earliest joiner first on ties
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)

	// Group operations
	UpsertGroup(ctx context.Context, group models.Group) error
	ListGroups(ctx context.Context) ([]models.Group, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
