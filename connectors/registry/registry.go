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

// Package registry keeps named data sources and builds their backends.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"aegisflow/platform/connectors/base"
	"aegisflow/platform/connectors/mongodb"
	"aegisflow/platform/connectors/mysql"
	"aegisflow/platform/connectors/postgres"
	redisconn "aegisflow/platform/connectors/redis"
	s3conn "aegisflow/platform/connectors/s3"
	"aegisflow/platform/connectors/secure"
	"aegisflow/platform/gateway/risk"
)

// NewBackend builds an unconnected backend for the config's type.
func NewBackend(cfg *base.ConnectorConfig) (base.Connector, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(), nil
	case "mysql":
		return mysql.New(), nil
	case "mongodb":
		return mongodb.New(), nil
	case "redis":
		return redisconn.New(), nil
	case "s3":
		return s3conn.New(), nil
	default:
		return nil, fmt.Errorf("unsupported connector type %q", cfg.Type)
	}
}

// Registry holds secure connectors by data source name. Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*secure.Connector
}

func New() *Registry {
	return &Registry{sources: make(map[string]*secure.Connector)}
}

// AddSource builds, connects, and wraps a data source.
func (r *Registry) AddSource(ctx context.Context, cfg *base.ConnectorConfig,
	agent *risk.Agent, secureCfg secure.Config) error {

	backend, err := NewBackend(cfg)
	if err != nil {
		return err
	}
	if err := backend.Connect(ctx, cfg); err != nil {
		return fmt.Errorf("connecting data source %q: %w", cfg.Name, err)
	}
	sc, err := secure.New(backend, agent, secureCfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[cfg.Name]; exists {
		return fmt.Errorf("data source %q already registered", cfg.Name)
	}
	r.sources[cfg.Name] = sc
	return nil
}

// AddSecure registers an already-wrapped connector, used by tests.
func (r *Registry) AddSecure(name string, sc *secure.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("data source %q already registered", name)
	}
	r.sources[name] = sc
	return nil
}

// Get looks up a data source by name.
func (r *Registry) Get(name string) (*secure.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("data source %q not found", name)
	}
	return sc, nil
}

// Names lists registered data sources in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
