package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"referralbot/internal/journal"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ClickHouseJournal struct {
	conn clickhouse.Conn
}

// NewClickHouseJournal creates a new ClickHouse connection for the campaign journal
func NewClickHouseJournal(host string, port int, database, user, password string, useTLS bool) (*ClickHouseJournal, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	if useTLS {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseJournal{conn: conn}, nil
}

// Initialize creates the journal tables
func (j *ClickHouseJournal) Initialize(ctx context.Context) error {
	err := j.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS broadcasts (
			id UUID,
			audience LowCardinality(String),
			message String,
			buttons Array(String),
			total UInt32,
			succeeded UInt32,
			failed UInt32,
			started_at DateTime64(3),
			duration_ms UInt64
		) ENGINE = MergeTree()
		ORDER BY started_at
	`)
	if err != nil {
		return fmt.Errorf("failed to create broadcasts table: %w", err)
	}

	err = j.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS registrations (
			user_id Int64,
			localcoinswap_id String,
			referrer_id Int64,
			registered_at DateTime64(3)
		) ENGINE = MergeTree()
		ORDER BY registered_at
	`)
	if err != nil {
		return fmt.Errorf("failed to create registrations table: %w", err)
	}
	return nil
}

// RecordBroadcast appends a broadcast outcome
func (j *ClickHouseJournal) RecordBroadcast(ctx context.Context, rec journal.BroadcastRecord) error {
	buttons := rec.Buttons
	if buttons == nil {
		buttons = []string{}
	}
	err := j.conn.Exec(ctx, `
		INSERT INTO broadcasts (id, audience, message, buttons, total, succeeded, failed, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Audience), rec.Message, buttons,
		uint32(rec.Total), uint32(rec.Succeeded), uint32(rec.Failed),
		rec.StartedAt, uint64(rec.Duration.Milliseconds()))
	if err != nil {
		return fmt.Errorf("failed to record broadcast: %w", err)
	}
	return nil
}

// RecordRegistration appends a completed registration
func (j *ClickHouseJournal) RecordRegistration(ctx context.Context, rec journal.RegistrationRecord) error {
	err := j.conn.Exec(ctx, `
		INSERT INTO registrations (user_id, localcoinswap_id, referrer_id, registered_at)
		VALUES (?, ?, ?, ?)`,
		rec.UserID, rec.LocalCoinSwapID, rec.ReferrerID, rec.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to record registration: %w", err)
	}
	return nil
}

// RecentBroadcasts returns the last N broadcasts
func (j *ClickHouseJournal) RecentBroadcasts(ctx context.Context, limit int) ([]journal.BroadcastRecord, error) {
	if limit <= 0 {
		limit = journal.DefaultMemoryCapacity
	}
	rows, err := j.conn.Query(ctx, `
		SELECT id, audience, message, buttons, total, succeeded, failed, started_at, duration_ms
		FROM broadcasts
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent broadcasts: %w", err)
	}
	defer rows.Close()

	records := []journal.BroadcastRecord{}
	for rows.Next() {
		var (
			rec                      journal.BroadcastRecord
			audience                 string
			total, succeeded, failed uint32
			durationMs               uint64
		)
		if err := rows.Scan(&rec.ID, &audience, &rec.Message, &rec.Buttons, &total, &succeeded, &failed, &rec.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		rec.Audience = journal.Audience(audience)
		rec.Total = int(total)
		rec.Succeeded = int(succeeded)
		rec.Failed = int(failed)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get recent broadcasts: %w", err)
	}
	return records, nil
}

// RegistrationCount returns how many registrations were credited to a referrer
func (j *ClickHouseJournal) RegistrationCount(ctx context.Context, referrerID int64) (uint64, error) {
	var count uint64
	row := j.conn.QueryRow(ctx, `SELECT count() FROM registrations WHERE referrer_id = ?`, referrerID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (j *ClickHouseJournal) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}
