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

package alerts

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// CooldownStore decides whether an alert key may fire. Acquire returns true
// and arms the cooldown when the key is quiet, false while it is cooling.
type CooldownStore interface {
	Acquire(key string, cooldown time.Duration) bool
}

// RedisCooldowns shares cooldown state across gateway instances via SET NX.
// Redis errors fail open so an outage never silences alerting entirely.
type RedisCooldowns struct {
	client *redis.Client
}

// NewRedisCooldowns wraps a Redis client.
func NewRedisCooldowns(client *redis.Client) *RedisCooldowns {
	return &RedisCooldowns{client: client}
}

func (r *RedisCooldowns) Acquire(key string, cooldown time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := r.client.SetNX(ctx, "alert_cooldown:"+key, 1, cooldown).Result()
	if err != nil {
		return true
	}
	return ok
}
