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
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"aegisflow/platform/shared/logger"
)

// rateLimitEntry tracks one caller's requests in the current window.
type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	resetTime time.Time
}

// RateLimiter enforces a per-caller request budget over a sliding minute.
// With a Redis client it uses a shared sorted-set window so limits hold
// across replicas; otherwise it falls back to per-process counters.
// Redis errors fail open.
type RateLimiter struct {
	client       *redis.Client
	defaultLimit int
	window       time.Duration

	mu      sync.Mutex
	entries map[string]*rateLimitEntry

	log *logger.Logger
}

// NewRateLimiter builds a limiter. client may be nil for in-memory mode.
func NewRateLimiter(client *redis.Client, defaultLimit int, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.New("gateway-ratelimit")
	}
	return &RateLimiter{
		client:       client,
		defaultLimit: defaultLimit,
		window:       time.Minute,
		entries:      make(map[string]*rateLimitEntry),
		log:          log,
	}
}

// Allow reports whether the caller may proceed. limit <= 0 uses the
// default; a zero default disables limiting.
func (rl *RateLimiter) Allow(ctx context.Context, callerID string, limit int) (bool, error) {
	if limit <= 0 {
		limit = rl.defaultLimit
	}
	if limit <= 0 {
		return true, nil
	}
	if rl.client != nil {
		return rl.allowRedis(ctx, callerID, limit)
	}
	return rl.allowMemory(callerID, limit), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, callerID string, limit int) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s", callerID)
	now := time.Now()
	windowStart := now.Add(-rl.window)

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.Unix()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, rl.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: a degraded Redis must not take down the proxy.
		rl.log.Warn(callerID, "", "rate limit check failed, allowing request", map[string]interface{}{
			"error": err.Error(),
		})
		return true, nil
	}
	return countCmd.Val() < int64(limit), nil
}

func (rl *RateLimiter) allowMemory(callerID string, limit int) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[callerID]
	if !ok {
		entry = &rateLimitEntry{}
		rl.entries[callerID] = entry
	}
	rl.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	now := time.Now()
	if now.After(entry.resetTime) {
		entry.count = 0
		entry.resetTime = now.Add(rl.window)
	}
	if entry.count >= limit {
		return false
	}
	entry.count++
	return true
}

// Reset clears a caller's in-memory window, used by tests.
func (rl *RateLimiter) Reset(callerID string) {
	rl.mu.Lock()
	delete(rl.entries, callerID)
	rl.mu.Unlock()
}
