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

package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"aegisflow/platform/shared/types"
)

// PostgresStore persists token mappings and access logs in Postgres. The
// unique index on masked_value makes Insert first-stored-wins.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the vault tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS vault_tokens (
    token_id           UUID PRIMARY KEY,
    hashed_original    TEXT NOT NULL,
    masked_value       TEXT NOT NULL UNIQUE,
    kind               TEXT NOT NULL,
    status             TEXT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL,
    expires_at         TIMESTAMPTZ NOT NULL,
    access_count       BIGINT NOT NULL DEFAULT 0,
    last_accessed_at   TIMESTAMPTZ,
    encrypted_original TEXT NOT NULL,
    salt               TEXT NOT NULL,
    metadata           JSONB
);
CREATE TABLE IF NOT EXISTS vault_access_log (
    log_id   UUID PRIMARY KEY,
    token_id TEXT NOT NULL,
    at       TIMESTAMPTZ NOT NULL,
    op       TEXT NOT NULL,
    success  BOOLEAN NOT NULL,
    actor    TEXT,
    metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_vault_access_log_at ON vault_access_log (at);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrating vault schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, row *types.TokenMapping) (bool, error) {
	meta, err := json.Marshal(row.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshaling metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_tokens
			(token_id, hashed_original, masked_value, kind, status,
			 created_at, expires_at, access_count, encrypted_original, salt, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (masked_value) DO NOTHING`,
		row.TokenID, row.HashedOriginal, row.MaskedValue, string(row.Kind), string(row.Status),
		row.CreatedAt, row.ExpiresAt, row.AccessCount, row.EncryptedOriginal, row.Salt, meta)
	if err != nil {
		return false, fmt.Errorf("inserting token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting token: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Get(ctx context.Context, maskedValue string, kind types.PIIKind) (*types.TokenMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, hashed_original, masked_value, kind, status,
		       created_at, expires_at, access_count, last_accessed_at,
		       encrypted_original, salt, metadata
		FROM vault_tokens
		WHERE masked_value = $1 AND ($2 = '' OR kind = $2)`,
		maskedValue, string(kind))

	var (
		m        types.TokenMapping
		kindStr  string
		status   string
		lastAt   sql.NullTime
		metaJSON []byte
	)
	err := row.Scan(&m.TokenID, &m.HashedOriginal, &m.MaskedValue, &kindStr, &status,
		&m.CreatedAt, &m.ExpiresAt, &m.AccessCount, &lastAt,
		&m.EncryptedOriginal, &m.Salt, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}

	m.Kind = types.PIIKind(kindStr)
	m.Status = types.TokenStatus(status)
	if lastAt.Valid {
		t := lastAt.Time
		m.LastAccessedAt = &t
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &m, nil
}

func (s *PostgresStore) UpdateAccess(ctx context.Context, tokenID string, accessCount int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vault_tokens SET access_count = $2, last_accessed_at = $3
		WHERE token_id = $1`,
		tokenID, accessCount, at)
	if err != nil {
		return fmt.Errorf("updating token access: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkStatus(ctx context.Context, tokenID string, status types.TokenStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vault_tokens SET status = $2 WHERE token_id = $1`,
		tokenID, string(status))
	if err != nil {
		return fmt.Errorf("updating token status: %w", err)
	}
	return nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vault_tokens SET status = $1
		WHERE status = $2 AND expires_at < $3`,
		string(types.TokenExpired), string(types.TokenActive), now)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweeping expired tokens: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) AppendAccess(ctx context.Context, entry types.TokenAccessLog) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling access metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vault_access_log (log_id, token_id, at, op, success, actor, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.LogID, entry.TokenID, entry.At, string(entry.Op), entry.Success, entry.Actor, meta)
	if err != nil {
		return fmt.Errorf("appending access log: %w", err)
	}
	return nil
}

func (s *PostgresStore) Statistics(ctx context.Context, accessesSince time.Time) (Statistics, error) {
	stats := Statistics{
		ByKind:          make(map[string]int64),
		ByStatus:        make(map[string]int64),
		AccessesLast24h: make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, status, COUNT(*) FROM vault_tokens GROUP BY kind, status`)
	if err != nil {
		return stats, fmt.Errorf("aggregating tokens: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, status string
		var count int64
		if err := rows.Scan(&kind, &status, &count); err != nil {
			return stats, fmt.Errorf("aggregating tokens: %w", err)
		}
		stats.TotalTokens += count
		stats.ByKind[kind] += count
		stats.ByStatus[status] += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("aggregating tokens: %w", err)
	}

	accessRows, err := s.db.QueryContext(ctx, `
		SELECT op, COUNT(*) FROM vault_access_log WHERE at >= $1 GROUP BY op`,
		accessesSince)
	if err != nil {
		return stats, fmt.Errorf("aggregating accesses: %w", err)
	}
	defer accessRows.Close()
	for accessRows.Next() {
		var op string
		var count int64
		if err := accessRows.Scan(&op, &count); err != nil {
			return stats, fmt.Errorf("aggregating accesses: %w", err)
		}
		stats.AccessesLast24h[op] = count
	}
	if err := accessRows.Err(); err != nil {
		return stats, fmt.Errorf("aggregating accesses: %w", err)
	}
	return stats, nil
}
