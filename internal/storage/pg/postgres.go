package pg

import (
	"context"
	"errors"
	"fmt"

	"referralbot/internal/models"
	"referralbot/internal/storage"
	"referralbot/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const uniqueViolation = "23505"

const userColumns = `id, chat_id, COALESCE(username, ''), display_name, stage, COALESCE(x_handle, ''), is_member,
	COALESCE(localcoinswap_id, ''), COALESCE(referral_code, ''), referred_by, referral_count, joined_at, updated_at`

type PostgresDB struct {
	pool        *pgxpool.Pool
	autoMigrate bool
}

// NewPostgresDB creates a new Postgres connection pool
func NewPostgresDB(ctx context.Context, dsn string, maxConns int32, autoMigrate bool) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	return &PostgresDB{pool: pool, autoMigrate: autoMigrate}, nil
}

// Initialize applies the embedded migrations when auto-migrate is enabled
func (db *PostgresDB) Initialize(ctx context.Context) error {
	if !db.autoMigrate {
		return nil
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	var stage string
	if err := row.Scan(&u.ID, &u.ChatID, &u.Username, &u.DisplayName, &stage, &u.XHandle, &u.IsMember,
		&u.LocalCoinSwapID, &u.ReferralCode, &u.ReferredBy, &u.ReferralCount, &u.JoinedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Stage = models.Stage(stage)
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// UpsertUser creates a user or refreshes their profile
func (db *PostgresDB) UpsertUser(ctx context.Context, profile models.Profile) (*models.User, error) {
	row := db.pool.QueryRow(ctx, `
		INSERT INTO users (id, chat_id, username, display_name)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (id) DO UPDATE SET
			chat_id = EXCLUDED.chat_id,
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			updated_at = NOW()
		RETURNING `+userColumns,
		profile.ID, profile.ChatID, profile.Username, profile.DisplayName)

	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return u, nil
}

// GetUser returns a user by Telegram id
func (db *PostgresDB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByReferralCode looks a user up by their referral code
func (db *PostgresDB) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by referral code: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by join time, newest first
func (db *PostgresDB) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY joined_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ListUserChatIDs returns the private chat id of every user
func (db *PostgresDB) ListUserChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.pool.Query(ctx, `SELECT chat_id FROM users ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan chat ids: %w", err)
	}
	return ids, nil
}

// SetReferrer records the referrer once
func (db *PostgresDB) SetReferrer(ctx context.Context, userID, referrerID int64) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		UPDATE users SET referred_by = $2, updated_at = NOW()
		WHERE id = $1
			AND id <> $2
			AND referred_by IS NULL
			AND stage <> 'active'
			AND EXISTS (SELECT 1 FROM users WHERE id = $2)`,
		userID, referrerID)
	if err != nil {
		return false, fmt.Errorf("failed to set referrer: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := db.mustExist(ctx, db.pool, userID); err != nil {
		return false, err
	}
	return false, nil
}

// ResetStage moves an in-progress user back to idle
func (db *PostgresDB) ResetStage(ctx context.Context, userID int64) error {
	_, err := db.pool.Exec(ctx, `UPDATE users SET stage = 'idle', updated_at = NOW() WHERE id = $1 AND stage <> 'active'`, userID)
	if err != nil {
		return fmt.Errorf("failed to reset stage: %w", err)
	}
	return db.mustExist(ctx, db.pool, userID)
}

// BeginCampaign moves an idle user to awaiting_twitter
func (db *PostgresDB) BeginCampaign(ctx context.Context, userID int64) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE users SET stage = $3, updated_at = NOW()
		WHERE id = $1 AND stage = $2`,
		userID, string(models.StageIdle), string(models.StageAwaitingTwitter))
	if err != nil {
		return fmt.Errorf("failed to begin campaign: %w", err)
	}
	return db.checkAdvanced(ctx, tag, userID)
}

// SaveXHandle stores the X handle
func (db *PostgresDB) SaveXHandle(ctx context.Context, userID int64, handle string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE users SET x_handle = $2, stage = $4, updated_at = NOW()
		WHERE id = $1 AND stage = $3`,
		userID, handle, string(models.StageAwaitingTwitter), string(models.StageAwaitingMembership))
	if err != nil {
		return fmt.Errorf("failed to save x handle: %w", err)
	}
	return db.checkAdvanced(ctx, tag, userID)
}

// SetMembership stores the membership result
func (db *PostgresDB) SetMembership(ctx context.Context, userID int64, isMember bool) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE users SET
			is_member = $2::boolean,
			stage = CASE WHEN $2::boolean AND stage = $3 THEN $4 ELSE stage END,
			updated_at = NOW()
		WHERE id = $1`,
		userID, isMember, string(models.StageAwaitingMembership), string(models.StageAwaitingLocalCoinSwapID))
	if err != nil {
		return fmt.Errorf("failed to set membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CompleteRegistration activates the user and credits the referrer in one transaction
func (db *PostgresDB) CompleteRegistration(ctx context.Context, userID int64, localCoinSwapID, referralCode string) (*models.Registration, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE users SET
			localcoinswap_id = $2,
			referral_code = $3,
			stage = $5,
			updated_at = NOW()
		WHERE id = $1 AND stage = $4
		RETURNING `+userColumns,
		userID, localCoinSwapID, referralCode, string(models.StageAwaitingLocalCoinSwapID), string(models.StageActive))

	u, err := scanUser(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if err := db.mustExist(ctx, tx, userID); err != nil {
			return nil, err
		}
		return nil, storage.ErrStageMismatch
	case isUniqueViolation(err):
		return nil, storage.ErrConflict
	case err != nil:
		return nil, fmt.Errorf("failed to complete registration: %w", err)
	}

	reg := &models.Registration{User: *u}
	if u.ReferredBy != nil {
		tag, err := tx.Exec(ctx, `
			INSERT INTO referrals (referrer_id, referred_id) VALUES ($1, $2)
			ON CONFLICT (referred_id) DO NOTHING`,
			*u.ReferredBy, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to record referral: %w", err)
		}
		if tag.RowsAffected() == 1 {
			if _, err := tx.Exec(ctx, `UPDATE users SET referral_count = referral_count + 1, updated_at = NOW() WHERE id = $1`, *u.ReferredBy); err != nil {
				return nil, fmt.Errorf("failed to credit referrer: %w", err)
			}
		}
		referrer := *u.ReferredBy
		reg.ReferrerID = &referrer
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrConflict
		}
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	return reg, nil
}

// Leaderboard ranks active users by referral count
func (db *PostgresDB) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	// LIMIT NULL means no limit
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, COALESCE(username, ''), display_name, referral_count
		FROM users
		WHERE stage = 'active'
		ORDER BY referral_count DESC, joined_at ASC, id ASC
		LIMIT $1`, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []models.LeaderboardEntry{}
	for rows.Next() {
		e := models.LeaderboardEntry{Rank: len(entries) + 1}
		if err := rows.Scan(&e.UserID, &e.Username, &e.DisplayName, &e.ReferralCount); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	return entries, nil
}

// UpsertGroup records a group, refreshing the title on re-add
func (db *PostgresDB) UpsertGroup(ctx context.Context, group models.Group) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO groups (id, title) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title`,
		group.ID, group.Title)
	if err != nil {
		return fmt.Errorf("failed to upsert group: %w", err)
	}
	return nil
}

// ListGroups returns all known groups ordered by title
func (db *PostgresDB) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, title, added_at FROM groups ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Title, &g.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// Close closes the connection pool
func (db *PostgresDB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (db *PostgresDB) mustExist(ctx context.Context, q querier, userID int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}

// checkAdvanced turns a zero-row stage update into ErrNotFound or ErrStageMismatch
func (db *PostgresDB) checkAdvanced(ctx context.Context, tag pgconn.CommandTag, userID int64) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := db.mustExist(ctx, db.pool, userID); err != nil {
		return err
	}
	return storage.ErrStageMismatch
}
