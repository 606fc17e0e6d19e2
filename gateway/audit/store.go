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
	"sort"
	"sync"
	"time"
)

// UsageStats aggregates a user's risk logs over a trailing window.
type UsageStats struct {
	TotalRequests   int64   `json:"total_requests"`
	BlockedRequests int64   `json:"blocked_requests"`
	AvgRiskScore    float64 `json:"avg_risk_score"`
	MaxRiskScore    float64 `json:"max_risk_score"`
	TotalTokens     int64   `json:"total_tokens"`
}

// Store persists risk logs. CreateRiskLog is idempotent on
// (UserID, RequestID): a replay returns false without error.
type Store interface {
	CreateRiskLog(ctx context.Context, rl *RiskLog) (bool, error)
	ListRiskLogs(ctx context.Context, userID string, limit, offset int) ([]RiskLog, error)
	RiskStatistics(ctx context.Context, userID string, days int) (UsageStats, error)
}

// MemoryStore keeps risk logs in process, mirroring the database's
// idempotency constraint. Used for tests and storeless deployments.
type MemoryStore struct {
	mu   sync.Mutex
	logs []RiskLog
	seen map[string]bool
	now  func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool), now: time.Now}
}

func (s *MemoryStore) CreateRiskLog(_ context.Context, rl *RiskLog) (bool, error) {
	key := rl.UserID + ":" + rl.RequestID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	s.logs = append(s.logs, *rl)
	return true, nil
}

func (s *MemoryStore) ListRiskLogs(_ context.Context, userID string, limit, offset int) ([]RiskLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []RiskLog
	for _, rl := range s.logs {
		if rl.UserID == userID {
			matched = append(matched, rl)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) RiskStatistics(_ context.Context, userID string, days int) (UsageStats, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	var stats UsageStats
	var sum float64
	for _, rl := range s.logs {
		if rl.UserID != userID || rl.CreatedAt.Before(cutoff) {
			continue
		}
		stats.TotalRequests++
		stats.TotalTokens += int64(rl.TotalTokens)
		if rl.Blocked {
			stats.BlockedRequests++
		}
		score := rl.InputRiskScore
		if rl.OutputRiskScore > score {
			score = rl.OutputRiskScore
		}
		sum += score
		if score > stats.MaxRiskScore {
			stats.MaxRiskScore = score
		}
	}
	if stats.TotalRequests > 0 {
		stats.AvgRiskScore = sum / float64(stats.TotalRequests)
	}
	return stats, nil
}
