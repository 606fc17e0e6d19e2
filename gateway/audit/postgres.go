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

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists risk logs in Postgres. The unique index on
// (user_id, request_id) enforces idempotency.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk-log table when it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS risk_logs (
    id                 BIGSERIAL PRIMARY KEY,
    user_id            TEXT NOT NULL,
    request_id         TEXT NOT NULL,
    input_risk_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
    output_risk_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
    risk_factors       JSONB,
    blocked            BOOLEAN NOT NULL DEFAULT FALSE,
    input_sanitized    BOOLEAN NOT NULL DEFAULT FALSE,
    output_sanitized   BOOLEAN NOT NULL DEFAULT FALSE,
    provider           TEXT,
    model              TEXT,
    prompt_tokens      INTEGER NOT NULL DEFAULT 0,
    completion_tokens  INTEGER NOT NULL DEFAULT 0,
    total_tokens       INTEGER NOT NULL DEFAULT 0,
    processing_ms      DOUBLE PRECISION NOT NULL DEFAULT 0,
    mitigation         JSONB,
    created_at         TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, request_id)
);
CREATE INDEX IF NOT EXISTS idx_risk_logs_user_created ON risk_logs (user_id, created_at DESC);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrating risk logs: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateRiskLog(ctx context.Context, rl *RiskLog) (bool, error) {
	factors, err := json.Marshal(rl.RiskFactors)
	if err != nil {
		return false, fmt.Errorf("marshaling risk factors: %w", err)
	}
	mitigation, err := json.Marshal(rl.Mitigation)
	if err != nil {
		return false, fmt.Errorf("marshaling mitigation: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_logs
			(user_id, request_id, input_risk_score, output_risk_score, risk_factors,
			 blocked, input_sanitized, output_sanitized, provider, model,
			 prompt_tokens, completion_tokens, total_tokens, processing_ms,
			 mitigation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_id, request_id) DO NOTHING`,
		rl.UserID, rl.RequestID, rl.InputRiskScore, rl.OutputRiskScore, factors,
		rl.Blocked, rl.InputSanitized, rl.OutputSanitized, rl.Provider, rl.Model,
		rl.PromptTokens, rl.CompletionTokens, rl.TotalTokens, rl.ProcessingMs,
		mitigation, rl.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("inserting risk log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting risk log: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) ListRiskLogs(ctx context.Context, userID string, limit, offset int) ([]RiskLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, request_id, input_risk_score, output_risk_score, risk_factors,
		       blocked, input_sanitized, output_sanitized, provider, model,
		       prompt_tokens, completion_tokens, total_tokens, processing_ms,
		       mitigation, created_at
		FROM risk_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing risk logs: %w", err)
	}
	defer rows.Close()

	var out []RiskLog
	for rows.Next() {
		var (
			rl         RiskLog
			factors    []byte
			mitigation []byte
			provider   sql.NullString
			model      sql.NullString
		)
		err := rows.Scan(&rl.UserID, &rl.RequestID, &rl.InputRiskScore, &rl.OutputRiskScore, &factors,
			&rl.Blocked, &rl.InputSanitized, &rl.OutputSanitized, &provider, &model,
			&rl.PromptTokens, &rl.CompletionTokens, &rl.TotalTokens, &rl.ProcessingMs,
			&mitigation, &rl.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning risk log: %w", err)
		}
		rl.Provider = provider.String
		rl.Model = model.String
		if len(factors) > 0 {
			if err := json.Unmarshal(factors, &rl.RiskFactors); err != nil {
				return nil, fmt.Errorf("unmarshaling risk factors: %w", err)
			}
		}
		if len(mitigation) > 0 {
			if err := json.Unmarshal(mitigation, &rl.Mitigation); err != nil {
				return nil, fmt.Errorf("unmarshaling mitigation: %w", err)
			}
		}
		out = append(out, rl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing risk logs: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RiskStatistics(ctx context.Context, userID string, days int) (UsageStats, error) {
	var stats UsageStats
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE blocked),
		       COALESCE(AVG(GREATEST(input_risk_score, output_risk_score)), 0),
		       COALESCE(MAX(GREATEST(input_risk_score, output_risk_score)), 0),
		       COALESCE(SUM(total_tokens), 0)
		FROM risk_logs
		WHERE user_id = $1 AND created_at >= NOW() - ($2 * INTERVAL '1 day')`,
		userID, days)
	err := row.Scan(&stats.TotalRequests, &stats.BlockedRequests,
		&stats.AvgRiskScore, &stats.MaxRiskScore, &stats.TotalTokens)
	if err != nil {
		return stats, fmt.Errorf("aggregating risk logs: %w", err)
	}
	return stats, nil
}
