package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voicepassport/pkg/domain"
	"voicepassport/pkg/platform/sentinel"
)

// PostgresStore persists the enrolled-user directory in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed directory.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema for the voice_users table. Applied by migrations, kept here so the
// store and its table definition travel together.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_users (
    user_id    TEXT PRIMARY KEY,
    sample_id  TEXT NOT NULL UNIQUE,
    enabled    BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`

func (s *PostgresStore) FindByUser(ctx context.Context, id domain.UserID) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, sample_id, enabled, created_at, updated_at
		   FROM voice_users WHERE user_id = $1`, string(id))
	return scanUser(row)
}

func (s *PostgresStore) FindBySample(ctx context.Context, id domain.SampleID) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, sample_id, enabled, created_at, updated_at
		   FROM voice_users WHERE sample_id = $1`, string(id))
	return scanUser(row)
}

func (s *PostgresStore) Put(ctx context.Context, user User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_users (user_id, sample_id, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		    SET sample_id = EXCLUDED.sample_id,
		        enabled = EXCLUDED.enabled,
		        updated_at = EXCLUDED.updated_at`,
		string(user.ID), string(user.SampleID), user.Enabled, user.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetEnabled(ctx context.Context, id domain.UserID, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE voice_users SET enabled = $2, updated_at = $3 WHERE user_id = $1`,
		string(id), enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set user enabled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user enabled: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (User, error) {
	var user User
	var userID, sampleID string
	err := row.Scan(&userID, &sampleID, &user.Enabled, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, sentinel.ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	user.ID = domain.UserID(userID)
	user.SampleID = domain.SampleID(sampleID)
	return user, nil
}
