package stubs

import (
	"context"
	"errors"
	"testing"

	"referralbot/internal/models"
	"referralbot/internal/storage"
)

func register(t *testing.T, db *MockDB, id int64, lcsID string) {
	t.Helper()
	ctx := context.Background()

	if _, err := db.UpsertUser(ctx, models.Profile{ID: id, ChatID: id, DisplayName: "user"}); err != nil {
		t.Fatalf("Failed to upsert user: %v", err)
	}
	if err := db.BeginCampaign(ctx, id); err != nil {
		t.Fatalf("Failed to begin campaign: %v", err)
	}
	if err := db.SaveXHandle(ctx, id, "handle"); err != nil {
		t.Fatalf("Failed to save handle: %v", err)
	}
	if err := db.SetMembership(ctx, id, true); err != nil {
		t.Fatalf("Failed to set membership: %v", err)
	}
	if _, err := db.CompleteRegistration(ctx, id, lcsID, "code-"+lcsID); err != nil {
		t.Fatalf("Failed to complete registration: %v", err)
	}
}

func TestMockDB_UpsertUserIsIdempotent(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	first, err := db.UpsertUser(ctx, models.Profile{ID: 1, ChatID: 1, Username: "old", DisplayName: "Old Name"})
	if err != nil {
		t.Fatalf("Failed to upsert user: %v", err)
	}

	second, err := db.UpsertUser(ctx, models.Profile{ID: 1, ChatID: 1, Username: "new", DisplayName: "New Name"})
	if err != nil {
		t.Fatalf("Failed to upsert user: %v", err)
	}

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatalf("Failed to list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("Expected 1 user, got %d", len(users))
	}
	if users[0].Username != "new" || users[0].DisplayName != "New Name" {
		t.Errorf("Expected latest profile, got %q / %q", users[0].Username, users[0].DisplayName)
	}
	if !second.JoinedAt.Equal(first.JoinedAt) {
		t.Error("Expected JoinedAt to be kept from the first upsert")
	}
	if second.Stage != models.StageIdle {
		t.Errorf("Expected new users to be idle, got %s", second.Stage)
	}
}

func TestMockDB_StageGuards(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	if _, err := db.UpsertUser(ctx, models.Profile{ID: 7, ChatID: 7}); err != nil {
		t.Fatalf("Failed to upsert user: %v", err)
	}

	if err := db.SaveXHandle(ctx, 7, "alice"); !errors.Is(err, storage.ErrStageMismatch) {
		t.Errorf("Expected ErrStageMismatch before the campaign starts, got %v", err)
	}
	if err := db.BeginCampaign(ctx, 7); err != nil {
		t.Fatalf("Failed to begin campaign: %v", err)
	}
	if err := db.BeginCampaign(ctx, 7); !errors.Is(err, storage.ErrStageMismatch) {
		t.Errorf("Expected ErrStageMismatch on second begin, got %v", err)
	}

	if _, err := db.GetUser(ctx, 99); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMockDB_MembershipOnlyAdvancesMembers(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	db.UpsertUser(ctx, models.Profile{ID: 3, ChatID: 3})
	db.BeginCampaign(ctx, 3)
	db.SaveXHandle(ctx, 3, "carol")

	if err := db.SetMembership(ctx, 3, false); err != nil {
		t.Fatalf("Failed to set membership: %v", err)
	}
	u, _ := db.GetUser(ctx, 3)
	if u.Stage != models.StageAwaitingMembership {
		t.Errorf("Expected non-member to stay on membership check, got %s", u.Stage)
	}

	if err := db.SetMembership(ctx, 3, true); err != nil {
		t.Fatalf("Failed to set membership: %v", err)
	}
	u, _ = db.GetUser(ctx, 3)
	if u.Stage != models.StageAwaitingLocalCoinSwapID || !u.IsMember {
		t.Errorf("Expected member to advance, got %s (member=%v)", u.Stage, u.IsMember)
	}
}

func TestMockDB_DuplicateLocalCoinSwapID(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	register(t, db, 1, "shared-id")

	db.UpsertUser(ctx, models.Profile{ID: 2, ChatID: 2})
	db.BeginCampaign(ctx, 2)
	db.SaveXHandle(ctx, 2, "bob")
	db.SetMembership(ctx, 2, true)

	_, err := db.CompleteRegistration(ctx, 2, "shared-id", "code-shared-id")
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	u, _ := db.GetUser(ctx, 2)
	if u.Stage != models.StageAwaitingLocalCoinSwapID {
		t.Errorf("Expected second user's stage unchanged, got %s", u.Stage)
	}
	if u.LocalCoinSwapID != "" {
		t.Errorf("Expected no id stored for second user, got %q", u.LocalCoinSwapID)
	}
}

func TestMockDB_ReferrerIsNeverOverwritten(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	register(t, db, 10, "ref-one")
	register(t, db, 11, "ref-two")
	db.UpsertUser(ctx, models.Profile{ID: 20, ChatID: 20})

	set, err := db.SetReferrer(ctx, 20, 10)
	if err != nil || !set {
		t.Fatalf("Expected first referrer to be set, got set=%v err=%v", set, err)
	}

	set, err = db.SetReferrer(ctx, 20, 11)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if set {
		t.Error("Expected second referrer to be ignored")
	}

	u, _ := db.GetUser(ctx, 20)
	if u.ReferredBy == nil || *u.ReferredBy != 10 {
		t.Errorf("Expected referrer 10, got %v", u.ReferredBy)
	}

	set, _ = db.SetReferrer(ctx, 11, 11)
	if set {
		t.Error("Expected self-referral to be ignored")
	}
}

func TestMockDB_RegistrationCreditsReferrer(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	register(t, db, 10, "referrer")
	db.UpsertUser(ctx, models.Profile{ID: 20, ChatID: 20})
	db.SetReferrer(ctx, 20, 10)
	db.BeginCampaign(ctx, 20)
	db.SaveXHandle(ctx, 20, "dave")
	db.SetMembership(ctx, 20, true)

	reg, err := db.CompleteRegistration(ctx, 20, "dave-lcs", "code-dave")
	if err != nil {
		t.Fatalf("Failed to complete registration: %v", err)
	}
	if reg.ReferrerID == nil || *reg.ReferrerID != 10 {
		t.Fatalf("Expected referrer 10 in registration, got %v", reg.ReferrerID)
	}

	referrer, _ := db.GetUser(ctx, 10)
	if referrer.ReferralCount != 1 {
		t.Errorf("Expected referral count 1, got %d", referrer.ReferralCount)
	}

	board, err := db.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to get leaderboard: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("Expected 2 ranked users, got %d", len(board))
	}
	if board[0].UserID != 10 || board[0].Rank != 1 {
		t.Errorf("Expected referrer ranked first, got %+v", board[0])
	}
}

func TestMockDB_Groups(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	db.UpsertGroup(ctx, models.Group{ID: -100, Title: "Old title"})
	db.UpsertGroup(ctx, models.Group{ID: -100, Title: "New title"})
	db.UpsertGroup(ctx, models.Group{ID: -200, Title: "Another"})

	groups, err := db.ListGroups(ctx)
	if err != nil {
		t.Fatalf("Failed to list groups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}
	if groups[1].ID != -100 || groups[1].Title != "New title" {
		t.Errorf("Expected re-added group title to be refreshed, got %+v", groups[1])
	}
}
