// Package journal keeps an append-only record of broadcasts and completed registrations.
// Recording is best effort: callers log failures and carry on.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Audience names who a broadcast was sent to
type Audience string

const (
	AudienceUsers  Audience = "users"
	AudienceGroups Audience = "groups"
)

// BroadcastRecord is the outcome of one broadcast
type BroadcastRecord struct {
	ID        uuid.UUID     `json:"id"`
	Audience  Audience      `json:"audience"`
	Message   string        `json:"message"`
	Buttons   []string      `json:"buttons"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ms"`
}

// RegistrationRecord is written when a user completes the campaign.
// ReferrerID is zero when nobody referred the user.
type RegistrationRecord struct {
	UserID          int64     `json:"user_id"`
	LocalCoinSwapID string    `json:"localcoinswap_id"`
	ReferrerID      int64     `json:"referrer_id,omitempty"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// Journal defines the interface for recording campaign events
type Journal interface {
	RecordBroadcast(ctx context.Context, rec BroadcastRecord) error
	RecordRegistration(ctx context.Context, rec RegistrationRecord) error
	// RecentBroadcasts returns the latest broadcasts, newest first
	RecentBroadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error)
	Close() error
}
