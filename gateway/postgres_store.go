// Copyright 2025 AegisFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore persists users, API keys, and settings in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the gateway tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL DEFAULT '',
    full_name     TEXT NOT NULL DEFAULT '',
    is_active     BOOLEAN NOT NULL DEFAULT TRUE,
    is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS api_keys (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL REFERENCES users (id),
    name        TEXT NOT NULL DEFAULT '',
    key_hash    TEXT NOT NULL UNIQUE,
    key_prefix  TEXT NOT NULL,
    permissions JSONB,
    usage_count BIGINT NOT NULL DEFAULT 0,
    usage_limit BIGINT NOT NULL DEFAULT 0,
    rate_limit  INTEGER NOT NULL DEFAULT 0,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    expires_at  TIMESTAMPTZ,
    last_used_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL,
    deleted_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys (user_id);
CREATE TABLE IF NOT EXISTS user_settings (
    user_id             TEXT PRIMARY KEY REFERENCES users (id),
    default_mode        TEXT NOT NULL DEFAULT 'balanced',
    max_risk_score      DOUBLE PRECISION NOT NULL DEFAULT 7,
    sanitize_by_default BOOLEAN NOT NULL DEFAULT TRUE,
    preferred_provider  TEXT NOT NULL DEFAULT '',
    alert_email         TEXT NOT NULL DEFAULT '',
    updated_at          TIMESTAMPTZ NOT NULL
);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrating gateway tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, full_name, is_active, is_admin, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.IsActive, u.IsAdmin, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, full_name, is_active, is_admin, created_at, updated_at
		FROM users WHERE email = LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, full_name, is_active, is_admin, created_at, updated_at
		FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName,
		&u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = LOWER($2), password_hash = $3, full_name = $4,
		       is_active = $5, is_admin = $6, updated_at = $7
		WHERE id = $1`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.IsActive, u.IsAdmin, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, k *APIKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return fmt.Errorf("marshaling permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, permissions,
		                      usage_count, usage_limit, rate_limit, is_active,
		                      expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		k.ID, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, perms,
		k.UsageCount, k.UsageLimit, k.RateLimit, k.IsActive,
		k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, permissions,
	usage_count, usage_limit, rate_limit, is_active, expires_at, last_used_at, created_at`

func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys WHERE key_hash = $1 AND deleted_at IS NULL`, keyHash)
	return scanAPIKey(row.Scan)
}

func (s *PostgresStore) ListKeysByUser(ctx context.Context, userID string) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	return out, nil
}

func scanAPIKey(scan func(dest ...interface{}) error) (*APIKey, error) {
	var (
		k        APIKey
		perms    []byte
		expires  sql.NullTime
		lastUsed sql.NullTime
	)
	err := scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &perms,
		&k.UsageCount, &k.UsageLimit, &k.RateLimit, &k.IsActive,
		&expires, &lastUsed, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &k.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshaling permissions: %w", err)
		}
	}
	if expires.Valid {
		k.ExpiresAt = &expires.Time
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	return &k, nil
}

// IncrementKeyUsage increments inside a single UPDATE so concurrent
// requests cannot overshoot the stored limit.
func (s *PostgresStore) IncrementKeyUsage(ctx context.Context, keyID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE api_keys
		SET usage_count = usage_count + 1, last_used_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		  AND (usage_limit <= 0 OR usage_count < usage_limit)
		RETURNING usage_count`, keyID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the key is gone or the limit is consumed.
		var usage int64
		probe := s.db.QueryRowContext(ctx, `
			SELECT usage_count FROM api_keys WHERE id = $1 AND deleted_at IS NULL`, keyID)
		if perr := probe.Scan(&usage); perr != nil {
			if errors.Is(perr, sql.ErrNoRows) {
				return 0, ErrNotFound
			}
			return 0, fmt.Errorf("probing api key usage: %w", perr)
		}
		return usage, ErrUsageLimitExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing api key usage: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateKey(ctx context.Context, k *APIKey) error {
	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return fmt.Errorf("marshaling permissions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET name = $2, permissions = $3, usage_limit = $4,
		       rate_limit = $5, is_active = $6, expires_at = $7
		WHERE id = $1 AND deleted_at IS NULL`,
		k.ID, k.Name, perms, k.UsageLimit, k.RateLimit, k.IsActive, k.ExpiresAt)
	if err != nil {
		return fmt.Errorf("updating api key: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SoftDeleteKey(ctx context.Context, keyID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET deleted_at = NOW(), is_active = FALSE
		WHERE id = $1 AND deleted_at IS NULL`, keyID)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) GetUserSettings(ctx context.Context, userID string) (*UserSettings, error) {
	var st UserSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, default_mode, max_risk_score, sanitize_by_default,
		       preferred_provider, alert_email, updated_at
		FROM user_settings WHERE user_id = $1`, userID).
		Scan(&st.UserID, &st.DefaultMode, &st.MaxRiskScore, &st.SanitizeByDefault,
			&st.PreferredProvider, &st.AlertEmail, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user settings: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) UpsertUserSettings(ctx context.Context, st *UserSettings) error {
	st.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, default_mode, max_risk_score, sanitize_by_default,
		                           preferred_provider, alert_email, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			default_mode = EXCLUDED.default_mode,
			max_risk_score = EXCLUDED.max_risk_score,
			sanitize_by_default = EXCLUDED.sanitize_by_default,
			preferred_provider = EXCLUDED.preferred_provider,
			alert_email = EXCLUDED.alert_email,
			updated_at = EXCLUDED.updated_at`,
		st.UserID, st.DefaultMode, st.MaxRiskScore, st.SanitizeByDefault,
		st.PreferredProvider, st.AlertEmail, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting user settings: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
