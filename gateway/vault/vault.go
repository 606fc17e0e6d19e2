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

// Package vault stores PII plaintext encrypted at rest and hands callers a
// deterministic masked surrogate. Retrieval never surfaces errors: a missing,
// expired, revoked, or undecryptable row comes back as a miss with an
// access-log record.
package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegisflow/platform/gateway/sanitize"
	"aegisflow/platform/shared/logger"
	"aegisflow/platform/shared/types"
)

// Vault wraps a Store with encryption and lifecycle handling. Operations on
// the same masked value are serialized; different tokens proceed in parallel.
type Vault struct {
	store     Store
	masterKey []byte
	log       *logger.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a vault. The master key feeds PBKDF2 and must not be empty.
func New(store Store, masterKey []byte, log *logger.Logger) (*Vault, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("vault master key is empty")
	}
	if log == nil {
		log = logger.New("token-vault")
	}
	return &Vault{
		store:     store,
		masterKey: masterKey,
		log:       log,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

func (v *Vault) tokenLock(maskedValue string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[maskedValue]
	if !ok {
		l = &sync.Mutex{}
		v.locks[maskedValue] = l
	}
	return l
}

// Store encrypts the original value and persists a token mapping, returning
// the masked surrogate. A masked-value collision keeps the first-stored row
// and still returns the surrogate.
func (v *Vault) Store(ctx context.Context, original string, kind types.PIIKind,
	ttl time.Duration, metadata map[string]interface{}) (string, error) {

	masked := sanitize.MaskedValue(original, kind)
	l := v.tokenLock(masked)
	l.Lock()
	defer l.Unlock()

	saltHex, err := newSaltHex()
	if err != nil {
		return "", err
	}
	encrypted, err := encrypt(deriveKey(v.masterKey, saltHex), original)
	if err != nil {
		return "", err
	}

	now := v.now().UTC()
	row := &types.TokenMapping{
		TokenID:           uuid.NewString(),
		HashedOriginal:    hashOriginal(original, saltHex),
		MaskedValue:       masked,
		Kind:              kind,
		Status:            types.TokenActive,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		EncryptedOriginal: encrypted,
		Salt:              saltHex,
		Metadata:          metadata,
	}

	inserted, err := v.store.Insert(ctx, row)
	if err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	if !inserted {
		// First-stored row wins; the surrogate still resolves.
		existing, gerr := v.store.Get(ctx, masked, "")
		if gerr == nil && existing != nil {
			v.logAccess(ctx, existing.TokenID, types.VaultOpStore, true,
				map[string]interface{}{"collision": true})
		}
		return masked, nil
	}

	v.logAccess(ctx, row.TokenID, types.VaultOpStore, true, nil)
	v.log.Info("", "", "token stored", map[string]interface{}{
		"kind":        string(kind),
		"ttl_seconds": int64(ttl.Seconds()),
	})
	return masked, nil
}

// Retrieve resolves a masked value back to its plaintext. The second return
// is false on any miss; the reason goes to the access log, not the caller.
func (v *Vault) Retrieve(ctx context.Context, maskedValue string, kind types.PIIKind) (string, bool) {
	l := v.tokenLock(maskedValue)
	l.Lock()
	defer l.Unlock()

	row, live := v.lookupLive(ctx, maskedValue, kind, types.VaultOpRetrieve)
	if !live {
		return "", false
	}

	plaintext, err := decrypt(deriveKey(v.masterKey, row.Salt), row.EncryptedOriginal)
	if err != nil {
		v.log.Error("", "", "token decryption failed", map[string]interface{}{"token_id": row.TokenID})
		v.logAccess(ctx, row.TokenID, types.VaultOpRetrieve, false,
			map[string]interface{}{"reason": "decrypt_failed"})
		return "", false
	}

	now := v.now().UTC()
	if err := v.store.UpdateAccess(ctx, row.TokenID, row.AccessCount+1, now); err != nil {
		v.log.Warn("", "", "token access update failed", map[string]interface{}{"token_id": row.TokenID})
	}
	v.logAccess(ctx, row.TokenID, types.VaultOpRetrieve, true, nil)
	return plaintext, true
}

// Validate reports whether a masked value resolves to a live token. No
// decryption happens.
func (v *Vault) Validate(ctx context.Context, maskedValue string, kind types.PIIKind) bool {
	l := v.tokenLock(maskedValue)
	l.Lock()
	defer l.Unlock()

	row, live := v.lookupLive(ctx, maskedValue, kind, types.VaultOpValidate)
	if live {
		v.logAccess(ctx, row.TokenID, types.VaultOpValidate, true, nil)
	}
	return live
}

// Revoke permanently disables a token. Returns false when no row matches.
func (v *Vault) Revoke(ctx context.Context, maskedValue string) bool {
	l := v.tokenLock(maskedValue)
	l.Lock()
	defer l.Unlock()

	row, err := v.store.Get(ctx, maskedValue, "")
	if err != nil || row == nil {
		return false
	}
	if err := v.store.MarkStatus(ctx, row.TokenID, types.TokenRevoked); err != nil {
		v.log.Error("", "", "token revoke failed", map[string]interface{}{"token_id": row.TokenID})
		return false
	}
	v.logAccess(ctx, row.TokenID, types.VaultOpRevoke, true, nil)
	v.log.Info("", "", "token revoked", map[string]interface{}{"token_id": row.TokenID})
	return true
}

// lookupLive loads a row and applies the status and expiry checks shared by
// retrieve and validate. Expired rows are lazily transitioned.
func (v *Vault) lookupLive(ctx context.Context, maskedValue string, kind types.PIIKind,
	op types.VaultOp) (*types.TokenMapping, bool) {

	row, err := v.store.Get(ctx, maskedValue, kind)
	if err != nil {
		v.log.Error("", "", "token lookup failed", map[string]interface{}{"op": string(op)})
		return nil, false
	}
	if row == nil {
		v.logAccess(ctx, "", op, false, map[string]interface{}{"reason": "not_found"})
		return nil, false
	}
	if row.ExpiresAt.Before(v.now().UTC()) {
		if row.Status == types.TokenActive {
			if err := v.store.MarkStatus(ctx, row.TokenID, types.TokenExpired); err != nil {
				v.log.Warn("", "", "token expiry transition failed", map[string]interface{}{"token_id": row.TokenID})
			}
		}
		v.logAccess(ctx, row.TokenID, op, false, map[string]interface{}{"reason": "expired"})
		return nil, false
	}
	if row.Status != types.TokenActive {
		v.logAccess(ctx, row.TokenID, op, false, map[string]interface{}{"reason": string(row.Status)})
		return nil, false
	}
	return row, true
}

// SweepExpired transitions overdue active rows in bulk.
func (v *Vault) SweepExpired(ctx context.Context) (int64, error) {
	n, err := v.store.SweepExpired(ctx, v.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired tokens: %w", err)
	}
	if n > 0 {
		v.log.Info("", "", "expired tokens swept", map[string]interface{}{"count": n})
	}
	return n, nil
}

// StartSweeper runs SweepExpired on an interval until the context ends.
func (v *Vault) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := v.SweepExpired(ctx); err != nil {
					v.log.Error("", "", "sweep failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()
}

// Statistics returns token counts by kind and status plus access totals for
// the trailing 24 hours.
func (v *Vault) Statistics(ctx context.Context) (Statistics, error) {
	return v.store.Statistics(ctx, v.now().UTC().Add(-24*time.Hour))
}

func (v *Vault) logAccess(ctx context.Context, tokenID string, op types.VaultOp,
	success bool, metadata map[string]interface{}) {

	entry := types.TokenAccessLog{
		LogID:    uuid.NewString(),
		TokenID:  tokenID,
		At:       v.now().UTC(),
		Op:       op,
		Success:  success,
		Metadata: metadata,
	}
	if err := v.store.AppendAccess(ctx, entry); err != nil {
		v.log.Warn("", "", "access log write failed", map[string]interface{}{"op": string(op)})
	}
}
