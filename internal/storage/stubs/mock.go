package stubs

import (
	"context"
	"referralbot/internal/models"
	"referralbot/internal/storage"
	"sort"
	"sync"
	"time"
)

// MockDB is an in-memory implementation of the Storage interface for testing
type MockDB struct {
	mu        sync.RWMutex
	users     map[int64]*models.User
	groups    map[int64]models.Group
	referrals map[int64]int64 // referred -> referrer

	// FailListUsers makes every user listing fail, for exercising datastore outages
	FailListUsers error
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		users:     make(map[int64]*models.User),
		groups:    make(map[int64]models.Group),
		referrals: make(map[int64]int64),
	}
}

// Initialize does nothing for mock DB
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// UpsertUser creates a user or refreshes their profile
func (m *MockDB) UpsertUser(ctx context.Context, profile models.Profile) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	u, ok := m.users[profile.ID]
	if !ok {
		u = &models.User{
			ID:       profile.ID,
			Stage:    models.StageIdle,
			JoinedAt: now,
		}
		m.users[profile.ID] = u
	}
	u.ChatID = profile.ChatID
	u.Username = profile.Username
	u.DisplayName = profile.DisplayName
	u.UpdatedAt = now

	out := *u
	return &out, nil
}

// GetUser returns a copy of the user
func (m *MockDB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *u
	return &out, nil
}

// GetUserByReferralCode looks a user up by their referral code
func (m *MockDB) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.ReferralCode != "" && u.ReferralCode == code {
			out := *u
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListUsers returns all users ordered by join time, newest first
func (m *MockDB) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailListUsers != nil {
		return nil, m.FailListUsers
	}

	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}

	sort.Slice(users, func(i, j int) bool {
		if !users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].JoinedAt.After(users[j].JoinedAt)
		}
		return users[i].ID > users[j].ID
	})

	return users, nil
}

// ListUserChatIDs returns the private chat id of every user
func (m *MockDB) ListUserChatIDs(ctx context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailListUsers != nil {
		return nil, m.FailListUsers
	}

	ids := make([]int64, 0, len(m.users))
	for _, u := range m.users {
		ids = append(ids, u.ChatID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SetReferrer records the referrer once
func (m *MockDB) SetReferrer(ctx context.Context, userID, referrerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if _, ok := m.users[referrerID]; !ok {
		return false, nil
	}
	if u.ReferredBy != nil || userID == referrerID || u.Stage == models.StageActive {
		return false, nil
	}
	ref := referrerID
	u.ReferredBy = &ref
	u.UpdatedAt = time.Now()
	return true, nil
}

// ResetStage moves an in-progress user back to idle
func (m *MockDB) ResetStage(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	if u.Stage != models.StageActive {
		u.Stage = models.StageIdle
	}
	return nil
}

// BeginCampaign moves an idle user to awaiting_twitter
func (m *MockDB) BeginCampaign(ctx context.Context, userID int64) error {
	return m.advance(userID, models.StageIdle, models.StageAwaitingTwitter, nil)
}

// SaveXHandle stores the X handle
func (m *MockDB) SaveXHandle(ctx context.Context, userID int64, handle string) error {
	return m.advance(userID, models.StageAwaitingTwitter, models.StageAwaitingMembership, func(u *models.User) {
		u.XHandle = handle
	})
}

// SetMembership stores the membership result
func (m *MockDB) SetMembership(ctx context.Context, userID int64, isMember bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.IsMember = isMember
	if isMember && u.Stage == models.StageAwaitingMembership {
		u.Stage = models.StageAwaitingLocalCoinSwapID
	}
	u.UpdatedAt = time.Now()
	return nil
}

// CompleteRegistration activates the user and credits the referrer
func (m *MockDB) CompleteRegistration(ctx context.Context, userID int64, localCoinSwapID, referralCode string) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if u.Stage != models.StageAwaitingLocalCoinSwapID {
		return nil, storage.ErrStageMismatch
	}
	for id, other := range m.users {
		if id == userID {
			continue
		}
		if other.LocalCoinSwapID == localCoinSwapID || (other.ReferralCode != "" && other.ReferralCode == referralCode) {
			return nil, storage.ErrConflict
		}
	}

	u.LocalCoinSwapID = localCoinSwapID
	u.ReferralCode = referralCode
	u.Stage = models.StageActive
	u.UpdatedAt = time.Now()

	reg := &models.Registration{User: *u}
	if u.ReferredBy != nil {
		if referrer, ok := m.users[*u.ReferredBy]; ok {
			if _, credited := m.referrals[userID]; !credited {
				m.referrals[userID] = referrer.ID
				referrer.ReferralCount++
			}
			id := referrer.ID
			reg.ReferrerID = &id
		}
	}
	return reg, nil
}

// Leaderboard ranks active users by referral count
func (m *MockDB) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []models.User
	for _, u := range m.users {
		if u.Stage == models.StageActive {
			active = append(active, *u)
		}
	}

	// Sort by count descending, then by join time, then by id
	sort.Slice(active, func(i, j int) bool {
		if active[i].ReferralCount != active[j].ReferralCount {
			return active[i].ReferralCount > active[j].ReferralCount
		}
		if !active[i].JoinedAt.Equal(active[j].JoinedAt) {
			return active[i].JoinedAt.Before(active[j].JoinedAt)
		}
		return active[i].ID < active[j].ID
	})

	if limit > 0 && limit < len(active) {
		active = active[:limit]
	}

	entries := make([]models.LeaderboardEntry, 0, len(active))
	for i, u := range active {
		entries = append(entries, models.LeaderboardEntry{
			Rank:          i + 1,
			UserID:        u.ID,
			Username:      u.Username,
			DisplayName:   u.DisplayName,
			ReferralCount: u.ReferralCount,
		})
	}
	return entries, nil
}

// UpsertGroup records a group, refreshing the title on re-add
func (m *MockDB) UpsertGroup(ctx context.Context, group models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.groups[group.ID]; ok {
		existing.Title = group.Title
		m.groups[group.ID] = existing
		return nil
	}
	if group.AddedAt.IsZero() {
		group.AddedAt = time.Now()
	}
	m.groups[group.ID] = group
	return nil
}

// ListGroups returns all known groups ordered by title
func (m *MockDB) ListGroups(ctx context.Context) ([]models.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := make([]models.Group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Title != groups[j].Title {
			return groups[i].Title < groups[j].Title
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

func (m *MockDB) advance(userID int64, from, to models.Stage, apply func(u *models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	if u.Stage != from {
		return storage.ErrStageMismatch
	}
	if apply != nil {
		apply(u)
	}
	u.Stage = to
	u.UpdatedAt = time.Now()
	return nil
}
