// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisflow/platform/shared/types"
)

func newTestVault(t *testing.T) (*Vault, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	v, err := New(store, []byte("0123456789abcdef0123456789abcdef"), nil)
	require.NoError(t, err)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return current }
	return v, store, &current
}

func TestVault_StoreAndRetrieve(t *testing.T) {
	v, store, _ := newTestVault(t)
	ctx := context.Background()

	masked, err := v.Store(ctx, "john.doe@example.com", types.PIIEmail, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, "j******e@e******.com", masked)

	got, ok := v.Retrieve(ctx, masked, types.PIIEmail)
	require.True(t, ok)
	assert.Equal(t, "john.doe@example.com", got)

	row, err := store.Get(ctx, masked, types.PIIEmail)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(1), row.AccessCount)
	assert.NotNil(t, row.LastAccessedAt)
	assert.Equal(t, types.TokenActive, row.Status)
}

func TestVault_ExpiryIsLazilyTransitioned(t *testing.T) {
	v, store, clock := newTestVault(t)
	ctx := context.Background()

	masked, err := v.Store(ctx, "john.doe@example.com", types.PIIEmail, time.Hour, nil)
	require.NoError(t, err)

	*clock = clock.Add(2 * time.Hour)

	got, ok := v.Retrieve(ctx, masked, types.PIIEmail)
	assert.False(t, ok)
	assert.Empty(t, got)

	row, err := store.Get(ctx, masked, types.PIIEmail)
	require.NoError(t, err)
	assert.Equal(t, types.TokenExpired, row.Status)

	// The miss is recorded, not surfaced.
	log := store.AccessLog()
	last := log[len(log)-1]
	assert.Equal(t, types.VaultOpRetrieve, last.Op)
	assert.False(t, last.Success)
	assert.Equal(t, "expired", last.Metadata["reason"])
}

func TestVault_RoundTripIsExact(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	original := "Kärntner Straße 38, 1010 Wien, Österreich"
	masked, err := v.Store(ctx, original, types.PIIAddress, time.Hour, nil)
	require.NoError(t, err)

	got, ok := v.Retrieve(ctx, masked, types.PIIAddress)
	require.True(t, ok)
	assert.Equal(t, original, got)
}

func TestVault_CollisionKeepsFirstStoredRow(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	// Both locals are eight runes starting with j and ending with e, so the
	// partial mask collides.
	first, err := v.Store(ctx, "john.doe@example.com", types.PIIEmail, time.Hour, nil)
	require.NoError(t, err)
	second, err := v.Store(ctx, "jane.roe@example.com", types.PIIEmail, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, ok := v.Retrieve(ctx, first, types.PIIEmail)
	require.True(t, ok)
	assert.Equal(t, "john.doe@example.com", got)
}

func TestVault_RetrieveMissesAreLoggedNotRaised(t *testing.T) {
	v, store, _ := newTestVault(t)
	ctx := context.Background()

	got, ok := v.Retrieve(ctx, "never-stored", types.PIIEmail)
	assert.False(t, ok)
	assert.Empty(t, got)

	log := store.AccessLog()
	require.Len(t, log, 1)
	assert.False(t, log[0].Success)
	assert.Equal(t, "not_found", log[0].Metadata["reason"])
}

func TestVault_KindMismatchIsAMiss(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	masked, err := v.Store(ctx, "john.doe@example.com", types.PIIEmail, time.Hour, nil)
	require.NoError(t, err)

	_, ok := v.Retrieve(ctx, masked, types.PIIPhone)
	assert.False(t, ok)

	// Kindless lookup still resolves.
	got, ok := v.Retrieve(ctx, masked, "")
	require.True(t, ok)
	assert.Equal(t, "john.doe@example.com", got)
}

func TestVault_Revoke(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	masked, err := v.Store(ctx, "555-867-5309", types.PIIPhone, time.Hour, nil)
	require.NoError(t, err)

	assert.True(t, v.Revoke(ctx, masked))
	assert.False(t, v.Revoke(ctx, "never-stored"))

	_, ok := v.Retrieve(ctx, masked, types.PIIPhone)
	assert.False(t, ok)
	assert.False(t, v.Validate(ctx, masked, types.PIIPhone))
}

func TestVault_ValidateDoesNotTouchAccessCount(t *testing.T) {
	v, store, _ := newTestVault(t)
	ctx := context.Background()

	masked, err := v.Store(ctx, "john.doe@example.com", types.PIIEmail, time.Hour, nil)
	require.NoError(t, err)

	assert.True(t, v.Validate(ctx, masked, types.PIIEmail))
	assert.True(t, v.Validate(ctx, masked, ""))

	row, err := store.Get(ctx, masked, types.PIIEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.AccessCount)
	assert.Nil(t, row.LastAccessedAt)
}

func TestVault_SweepExpired(t *testing.T) {
	v, _, clock := newTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, "john.doe@example.com", types.PIIEmail, time.Hour, nil)
	require.NoError(t, err)
	_, err = v.Store(ctx, "555-867-5309", types.PIIPhone, 30*time.Minute, nil)
	require.NoError(t, err)
	keep, err := v.Store(ctx, "123-45-6789", types.PIISSN, 48*time.Hour, nil)
	require.NoError(t, err)

	*clock = clock.Add(2 * time.Hour)

	n, err := v.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.True(t, v.Validate(ctx, keep, types.PIISSN))

	stats, err := v.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalTokens)
	assert.Equal(t, int64(2), stats.ByStatus[string(types.TokenExpired)])
	assert.Equal(t, int64(1), stats.ByStatus[string(types.TokenActive)])
}

func TestVault_StatisticsCountsRecentAccesses(t *testing.T) {
	v, _, clock := newTestVault(t)
	ctx := context.Background()

	masked, err := v.Store(ctx, "john.doe@example.com", types.PIIEmail, 72*time.Hour, nil)
	require.NoError(t, err)
	_, ok := v.Retrieve(ctx, masked, types.PIIEmail)
	require.True(t, ok)

	// Push the store and first retrieve outside the 24-hour window.
	*clock = clock.Add(30 * time.Hour)
	_, ok = v.Retrieve(ctx, masked, types.PIIEmail)
	require.True(t, ok)

	stats, err := v.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AccessesLast24h[string(types.VaultOpRetrieve)])
	assert.Zero(t, stats.AccessesLast24h[string(types.VaultOpStore)])
	assert.Equal(t, int64(1), stats.ByKind[string(types.PIIEmail)])
}

func TestNew_RejectsEmptyMasterKey(t *testing.T) {
	_, err := New(NewMemoryStore(), nil, nil)
	assert.Error(t, err)
}
