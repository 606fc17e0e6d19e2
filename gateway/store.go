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
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound reports a missing user, key, or settings row.
var ErrNotFound = errors.New("record not found")

// ErrUsageLimitExceeded reports an API key that has consumed its usage
// allowance. Handlers map it to 429.
var ErrUsageLimitExceeded = errors.New("api key usage limit exceeded")

// User is one account row.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// APIKey is one issued key. Only the SHA-256 hash of the full key is
// stored; KeyPrefix keeps enough of the plaintext for display.
type APIKey struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	KeyHash     string     `json:"-"`
	KeyPrefix   string     `json:"key_prefix"`
	Permissions []string   `json:"permissions,omitempty"`
	UsageCount  int64      `json:"usage_count"`
	UsageLimit  int64      `json:"usage_limit"`
	RateLimit   int        `json:"rate_limit"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"-"`
}

// HasPermission reports whether the key grants a permission. An empty
// permission list grants everything, and "*" is a wildcard.
func (k *APIKey) HasPermission(perm string) bool {
	if len(k.Permissions) == 0 {
		return true
	}
	for _, p := range k.Permissions {
		if p == "*" || strings.EqualFold(p, perm) {
			return true
		}
	}
	return false
}

// Expired reports whether the key is past its expiry.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// UserSettings holds a user's per-request defaults.
type UserSettings struct {
	UserID             string    `json:"user_id"`
	DefaultMode        string    `json:"default_mode"`
	MaxRiskScore       float64   `json:"max_risk_score"`
	SanitizeByDefault  bool      `json:"sanitize_by_default"`
	PreferredProvider  string    `json:"preferred_provider,omitempty"`
	AlertEmail         string    `json:"alert_email,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Store is the gateway's record store for users, API keys, and settings.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	ListKeysByUser(ctx context.Context, userID string) ([]APIKey, error)
	// IncrementKeyUsage atomically increments the key's usage count and
	// returns ErrUsageLimitExceeded once the stored limit is consumed.
	// A zero limit means unlimited.
	IncrementKeyUsage(ctx context.Context, keyID string) (int64, error)
	UpdateKey(ctx context.Context, k *APIKey) error
	SoftDeleteKey(ctx context.Context, keyID string) error

	GetUserSettings(ctx context.Context, userID string) (*UserSettings, error)
	UpsertUserSettings(ctx context.Context, s *UserSettings) error
}

// MemoryStore is the in-process Store used by tests and storeless
// deployments. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*User
	byEmail  map[string]string
	keys     map[string]*APIKey
	byHash   map[string]string
	settings map[string]*UserSettings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		byEmail:  make(map[string]string),
		keys:     make(map[string]*APIKey),
		byHash:   make(map[string]string),
		settings: make(map[string]*UserSettings),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, exists := s.byEmail[email]; exists {
		return errors.New("email already registered")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, k *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	cp := *k
	s.keys[k.ID] = &cp
	s.byHash[k.KeyHash] = k.ID
	return nil
}

func (s *MemoryStore) GetAPIKeyByHash(_ context.Context, keyHash string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	k := s.keys[id]
	if k.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) ListKeysByUser(_ context.Context, userID string) ([]APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []APIKey
	for _, k := range s.keys {
		if k.UserID == userID && k.DeletedAt == nil {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (s *MemoryStore) IncrementKeyUsage(_ context.Context, keyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok || k.DeletedAt != nil {
		return 0, ErrNotFound
	}
	if k.UsageLimit > 0 && k.UsageCount >= k.UsageLimit {
		return k.UsageCount, ErrUsageLimitExceeded
	}
	k.UsageCount++
	now := time.Now().UTC()
	k.LastUsedAt = &now
	return k.UsageCount, nil
}

func (s *MemoryStore) UpdateKey(_ context.Context, k *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.keys[k.ID]
	if !ok || existing.DeletedAt != nil {
		return ErrNotFound
	}
	cp := *k
	s.keys[k.ID] = &cp
	s.byHash[k.KeyHash] = k.ID
	return nil
}

func (s *MemoryStore) SoftDeleteKey(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	k.IsActive = false
	return nil
}

func (s *MemoryStore) GetUserSettings(_ context.Context, userID string) (*UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) UpsertUserSettings(_ context.Context, st *UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = time.Now().UTC()
	cp := *st
	s.settings[st.UserID] = &cp
	return nil
}
