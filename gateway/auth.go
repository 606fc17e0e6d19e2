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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"aegisflow/platform/shared/logger"
)

// PermChatCompletions guards the proxy endpoint; analysis endpoints use
// PermAnalyze. Keys created without an explicit permission list get both.
const (
	PermChatCompletions = "chat.completions"
	PermAnalyze         = "risk.analyze"
	PermVault           = "vault.manage"
	PermAdmin           = "admin"
)

// GenerateAPIKey returns a new plaintext key, its storage hash, and the
// display prefix. The plaintext is shown once and never stored.
func GenerateAPIKey(prefix string, length int) (key, keyHash, keyPrefix string, err error) {
	raw := make([]byte, length)
	if _, err = rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generating api key: %w", err)
	}
	key = prefix + base64.RawURLEncoding.EncodeToString(raw)
	keyHash = HashAPIKey(key)
	cut := len(prefix) + 8
	if cut > len(key) {
		cut = len(key)
	}
	keyPrefix = key[:cut]
	return key, keyHash, keyPrefix, nil
}

// HashAPIKey returns the hex SHA-256 used to index keys at rest.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HashPassword hashes a login password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether a password matches its stored hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims is the JWT payload for browser sessions.
type Claims struct {
	Email string `json:"email,omitempty"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs a session token for a user.
func (a *Authenticator) IssueToken(u *User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Email: u.Email,
		Admin: u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(a.jwtExpiration) * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a session token.
func (a *Authenticator) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	User *User
	Key  *APIKey
}

type contextKey string

const identityKey contextKey = "gateway.identity"

// IdentityFrom extracts the authenticated caller, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// Authenticator verifies API keys and session tokens against the store.
type Authenticator struct {
	store         Store
	limiter       *RateLimiter
	jwtSecret     []byte
	jwtExpiration int
	log           *logger.Logger
}

func NewAuthenticator(store Store, limiter *RateLimiter, cfg Config, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.New("gateway-auth")
	}
	return &Authenticator{
		store:         store,
		limiter:       limiter,
		jwtSecret:     []byte(cfg.JWTSecretKey),
		jwtExpiration: cfg.JWTExpirationHours,
		log:           log,
	}
}

// AuthenticateKey resolves a plaintext API key to an identity. It returns
// ErrUsageLimitExceeded when the key's allowance is consumed.
func (a *Authenticator) AuthenticateKey(ctx context.Context, key string) (*Identity, error) {
	apiKey, err := a.store.GetAPIKeyByHash(ctx, HashAPIKey(key))
	if err != nil {
		return nil, errors.New("invalid api key")
	}
	if !apiKey.IsActive {
		return nil, errors.New("api key is inactive")
	}
	if apiKey.Expired(time.Now().UTC()) {
		return nil, errors.New("api key has expired")
	}
	user, err := a.store.GetUserByID(ctx, apiKey.UserID)
	if err != nil {
		return nil, errors.New("invalid api key")
	}
	if !user.IsActive {
		return nil, errors.New("user account is inactive")
	}
	if _, err := a.store.IncrementKeyUsage(ctx, apiKey.ID); err != nil {
		if errors.Is(err, ErrUsageLimitExceeded) {
			return nil, ErrUsageLimitExceeded
		}
		// Usage accounting failures must not lock callers out.
		a.log.Warn(user.ID, "", "usage increment failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return &Identity{User: user, Key: apiKey}, nil
}

// Middleware authenticates every request with a bearer API key or JWT,
// applies the per-key rate limit, and attaches the identity.
func (a *Authenticator) Middleware(requiredPerm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := RequestIDFrom(r.Context())
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing credentials")
				return
			}

			var identity *Identity
			if strings.Contains(token, ".") {
				// JWTs have dots; API keys are url-safe base64.
				claims, err := a.VerifyToken(token)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				user, err := a.store.GetUserByID(r.Context(), claims.Subject)
				if err != nil || !user.IsActive {
					writeError(w, http.StatusUnauthorized, "user account is inactive")
					return
				}
				identity = &Identity{User: user}
			} else {
				id, err := a.AuthenticateKey(r.Context(), token)
				if errors.Is(err, ErrUsageLimitExceeded) {
					writeError(w, http.StatusTooManyRequests, "api key usage limit exceeded")
					return
				}
				if err != nil {
					a.log.Warn("", requestID, "authentication rejected", map[string]interface{}{
						"reason": err.Error(),
					})
					writeError(w, http.StatusUnauthorized, err.Error())
					return
				}
				identity = id
			}

			if identity.Key != nil && requiredPerm != "" && !identity.Key.HasPermission(requiredPerm) {
				writeError(w, http.StatusForbidden,
					fmt.Sprintf("api key lacks permission %q", requiredPerm))
				return
			}

			if a.limiter != nil {
				limit := 0
				if identity.Key != nil {
					limit = identity.Key.RateLimit
				}
				allowed, err := a.limiter.Allow(r.Context(), identity.User.ID, limit)
				if err != nil {
					// Rate limiting fails open.
					a.log.Warn(identity.User.ID, requestID, "rate limiter unavailable", map[string]interface{}{
						"error": err.Error(),
					})
				} else if !allowed {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
					return
				}
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}
