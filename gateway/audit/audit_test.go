// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLog(userID, requestID string) *RiskLog {
	return &RiskLog{
		UserID:         userID,
		RequestID:      requestID,
		InputRiskScore: 3.5,
		Provider:       "groq",
		TotalTokens:    120,
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStore_IdempotentCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.CreateRiskLog(ctx, sampleLog("u1", "r1"))
	require.NoError(t, err)
	assert.True(t, created)

	// A replay of the same (user, request) pair is a no-op.
	created, err = store.CreateRiskLog(ctx, sampleLog("u1", "r1"))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = store.CreateRiskLog(ctx, sampleLog("u2", "r1"))
	require.NoError(t, err)
	assert.True(t, created)

	logs, err := store.ListRiskLogs(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestMemoryStore_ListOrderAndPaging(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, reqID := range []string{"r1", "r2", "r3"} {
		rl := sampleLog("u1", reqID)
		rl.CreatedAt = rl.CreatedAt.Add(time.Duration(i) * time.Minute)
		_, err := store.CreateRiskLog(ctx, rl)
		require.NoError(t, err)
	}

	logs, err := store.ListRiskLogs(ctx, "u1", 2, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "r3", logs[0].RequestID, "newest first")
	assert.Equal(t, "r2", logs[1].RequestID)

	logs, err = store.ListRiskLogs(ctx, "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "r1", logs[0].RequestID)
}

func TestMemoryStore_RiskStatistics(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	recent := sampleLog("u1", "r1")
	recent.CreatedAt = now.Add(-2 * time.Hour)
	recent.InputRiskScore = 4
	recent.OutputRiskScore = 6
	recent.Blocked = true
	_, err := store.CreateRiskLog(ctx, recent)
	require.NoError(t, err)

	old := sampleLog("u1", "r2")
	old.CreatedAt = now.AddDate(0, 0, -40)
	_, err = store.CreateRiskLog(ctx, old)
	require.NoError(t, err)

	stats, err := store.RiskStatistics(ctx, "u1", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
	assert.InDelta(t, 6.0, stats.AvgRiskScore, 1e-9, "max of input/output per row")
	assert.Equal(t, int64(120), stats.TotalTokens)
}

func TestRecorder_DrainsQueueToStore(t *testing.T) {
	store := NewMemoryStore()
	r, err := NewRecorder(store, RecorderConfig{QueueSize: 16, Workers: 2, FallbackPath: ""}, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.True(t, r.Record(sampleLog("u1", "r"+string(rune('0'+i)))))
	}
	// A duplicate request id rides the queue but dedups at the store.
	r.Record(sampleLog("u1", "r0"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	logs, err := store.ListRiskLogs(context.Background(), "u1", 100, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 5)

	stats := r.GetStats()
	assert.Equal(t, uint64(6), stats["enqueued"])
	assert.Equal(t, uint64(6), stats["processed"])
	assert.Equal(t, uint64(0), stats["dropped"])
}

// blockingStore parks every write until released, so tests can fill the
// queue deterministically.
type blockingStore struct {
	inner   *MemoryStore
	started chan struct{}
	release chan struct{}
}

func (b *blockingStore) CreateRiskLog(ctx context.Context, rl *RiskLog) (bool, error) {
	b.started <- struct{}{}
	<-b.release
	return b.inner.CreateRiskLog(ctx, rl)
}

func (b *blockingStore) ListRiskLogs(ctx context.Context, userID string, limit, offset int) ([]RiskLog, error) {
	return b.inner.ListRiskLogs(ctx, userID, limit, offset)
}

func (b *blockingStore) RiskStatistics(ctx context.Context, userID string, days int) (UsageStats, error) {
	return b.inner.RiskStatistics(ctx, userID, days)
}

func TestRecorder_FullQueueSpillsToFallback(t *testing.T) {
	store := &blockingStore{
		inner:   NewMemoryStore(),
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	fallback := filepath.Join(t.TempDir(), "fallback.jsonl")
	r, err := NewRecorder(store, RecorderConfig{QueueSize: 1, Workers: 1, FallbackPath: fallback}, nil)
	require.NoError(t, err)

	// First record is held by the worker, second fills the queue.
	assert.True(t, r.Record(sampleLog("u1", "r1")))
	<-store.started
	assert.True(t, r.Record(sampleLog("u1", "r2")))

	// Third finds the queue full and spills.
	assert.True(t, r.Record(sampleLog("u1", "r3")))
	assert.Equal(t, uint64(1), r.GetStats()["dropped"])

	close(store.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	f, err := os.Open(fallback)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "expected a spilled record")
	var rl RiskLog
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rl))
	assert.Equal(t, "r3", rl.RequestID)
}

// failingStore always errors, driving the retry and fallback path.
type failingStore struct {
	mu       sync.Mutex
	attempts int
}

func (f *failingStore) CreateRiskLog(context.Context, *RiskLog) (bool, error) {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	return false, errors.New("db down")
}

func (f *failingStore) ListRiskLogs(context.Context, string, int, int) ([]RiskLog, error) {
	return nil, nil
}

func (f *failingStore) RiskStatistics(context.Context, string, int) (UsageStats, error) {
	return UsageStats{}, nil
}

func TestRecorder_StoreFailureFallsBack(t *testing.T) {
	store := &failingStore{}
	fallback := filepath.Join(t.TempDir(), "fallback.jsonl")
	r, err := NewRecorder(store, RecorderConfig{QueueSize: 4, Workers: 1, FallbackPath: fallback}, nil)
	require.NoError(t, err)

	require.True(t, r.Record(sampleLog("u1", "r1")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	store.mu.Lock()
	attempts := store.attempts
	store.mu.Unlock()
	assert.Equal(t, 3, attempts, "three attempts before giving up")
	assert.Equal(t, uint64(1), r.GetStats()["failed"])

	data, err := os.ReadFile(fallback)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request_id":"r1"`)
}
