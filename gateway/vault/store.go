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
	"sort"
	"sync"
	"time"

	"aegisflow/platform/shared/types"
)

// Statistics is the vault's aggregate snapshot.
type Statistics struct {
	TotalTokens     int64            `json:"total_tokens"`
	ByKind          map[string]int64 `json:"by_kind"`
	ByStatus        map[string]int64 `json:"by_status"`
	AccessesLast24h map[string]int64 `json:"accesses_last_24h"`
}

// Store is the vault's persistence layer. Rows are keyed by masked value;
// Insert must not overwrite an existing row (first stored wins).
type Store interface {
	// Insert adds a row unless one with the same masked value exists.
	// Returns false without error on a collision.
	Insert(ctx context.Context, row *types.TokenMapping) (bool, error)

	// Get returns the row for a masked value, or nil when absent. An empty
	// kind matches any kind.
	Get(ctx context.Context, maskedValue string, kind types.PIIKind) (*types.TokenMapping, error)

	// UpdateAccess persists a new access count and last-accessed time.
	UpdateAccess(ctx context.Context, tokenID string, accessCount int64, at time.Time) error

	// MarkStatus transitions a row's lifecycle status.
	MarkStatus(ctx context.Context, tokenID string, status types.TokenStatus) error

	// SweepExpired bulk-transitions overdue active rows to expired and
	// returns how many changed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// AppendAccess records one access-log row.
	AppendAccess(ctx context.Context, entry types.TokenAccessLog) error

	// Statistics aggregates token counts and accesses since the given time.
	Statistics(ctx context.Context, accessesSince time.Time) (Statistics, error)
}

// MemoryStore is an in-process Store used for tests and single-node setups.
type MemoryStore struct {
	mu     sync.Mutex
	byMask map[string]*types.TokenMapping
	byID   map[string]*types.TokenMapping
	log    []types.TokenAccessLog
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byMask: make(map[string]*types.TokenMapping),
		byID:   make(map[string]*types.TokenMapping),
	}
}

func (s *MemoryStore) Insert(_ context.Context, row *types.TokenMapping) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byMask[row.MaskedValue]; ok {
		return false, nil
	}
	cp := *row
	s.byMask[row.MaskedValue] = &cp
	s.byID[row.TokenID] = &cp
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, maskedValue string, kind types.PIIKind) (*types.TokenMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byMask[maskedValue]
	if !ok || (kind != "" && row.Kind != kind) {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (s *MemoryStore) UpdateAccess(_ context.Context, tokenID string, accessCount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.byID[tokenID]; ok {
		row.AccessCount = accessCount
		t := at
		row.LastAccessedAt = &t
	}
	return nil
}

func (s *MemoryStore) MarkStatus(_ context.Context, tokenID string, status types.TokenStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.byID[tokenID]; ok {
		row.Status = status
	}
	return nil
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.byID {
		if row.Status == types.TokenActive && row.ExpiresAt.Before(now) {
			row.Status = types.TokenExpired
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendAccess(_ context.Context, entry types.TokenAccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
	return nil
}

func (s *MemoryStore) Statistics(_ context.Context, accessesSince time.Time) (Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		ByKind:          make(map[string]int64),
		ByStatus:        make(map[string]int64),
		AccessesLast24h: make(map[string]int64),
	}
	for _, row := range s.byID {
		stats.TotalTokens++
		stats.ByKind[string(row.Kind)]++
		stats.ByStatus[string(row.Status)]++
	}
	for _, entry := range s.log {
		if !entry.At.Before(accessesSince) {
			stats.AccessesLast24h[string(entry.Op)]++
		}
	}
	return stats, nil
}

// AccessLog returns a copy of the recorded access-log rows in append order.
func (s *MemoryStore) AccessLog() []types.TokenAccessLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TokenAccessLog, len(s.log))
	copy(out, s.log)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
