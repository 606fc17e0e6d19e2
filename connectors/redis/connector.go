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

// Package redis provides the Redis data-source connector. Query statements
// are a small command language: "GET key", "HGETALL key", "KEYS pattern".
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"aegisflow/platform/connectors/base"
	"aegisflow/platform/shared/logger"
)

const defaultTimeout = 10 * time.Second

// Connector implements base.Connector for Redis.
type Connector struct {
	config *base.ConnectorConfig
	client *redis.Client
	log    *logger.Logger
}

func New() *Connector {
	return &Connector{log: logger.New("connector-redis")}
}

// NewWithClient wires an existing client, used by tests.
func NewWithClient(client *redis.Client, cfg *base.ConnectorConfig) *Connector {
	return &Connector{config: cfg, client: client, log: logger.New("connector-redis")}
}

func (c *Connector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	c.config = config

	opts, err := redis.ParseURL(config.ConnectionURL)
	if err != nil {
		return base.NewConnectorError(config.Name, "Connect", "parsing connection URL", err)
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return base.NewConnectorError(config.Name, "Connect", "pinging redis", err)
	}

	c.client = client
	c.log.Info("", "", "connected", map[string]interface{}{"source": config.Name})
	return nil
}

func (c *Connector) Disconnect(context.Context) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return base.NewConnectorError(c.config.Name, "Disconnect", "closing client", err)
	}
	return nil
}

func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: "not connected"}, nil
	}
	start := time.Now()
	err := c.client.Ping(ctx).Err()
	status := &base.HealthStatus{
		Healthy:   err == nil,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status, nil
}

// Query parses the statement as "VERB argument". GET returns one row with
// key and value, HGETALL one row of hash fields, KEYS a row per key.
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.name(), "Query", "not connected", nil)
	}

	verb, arg, err := splitCommand(query.Statement)
	if err != nil {
		return nil, base.NewConnectorError(c.name(), "Query", "parsing statement", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout(query.Timeout))
	defer cancel()

	start := time.Now()
	var rows []map[string]interface{}

	switch verb {
	case "GET":
		val, err := c.client.Get(queryCtx, arg).Result()
		if err == redis.Nil {
			rows = []map[string]interface{}{}
		} else if err != nil {
			return nil, base.NewConnectorError(c.name(), "Query", "GET failed", err)
		} else {
			rows = []map[string]interface{}{{"key": arg, "value": val}}
		}
	case "HGETALL":
		fields, err := c.client.HGetAll(queryCtx, arg).Result()
		if err != nil {
			return nil, base.NewConnectorError(c.name(), "Query", "HGETALL failed", err)
		}
		row := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			row[k] = v
		}
		rows = []map[string]interface{}{row}
	case "KEYS":
		keys, err := c.client.Keys(queryCtx, arg).Result()
		if err != nil {
			return nil, base.NewConnectorError(c.name(), "Query", "KEYS failed", err)
		}
		for _, key := range keys {
			if query.Limit > 0 && len(rows) >= query.Limit {
				break
			}
			rows = append(rows, map[string]interface{}{"key": key})
		}
	default:
		return nil, base.NewConnectorError(c.name(), "Query",
			fmt.Sprintf("unsupported read command %q", verb), nil)
	}

	return &base.QueryResult{
		Rows:      rows,
		RowCount:  len(rows),
		Duration:  time.Since(start),
		Connector: c.name(),
	}, nil
}

// Execute supports "SET key" with a value parameter and "DEL key".
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.name(), "Execute", "not connected", nil)
	}

	verb, arg, err := splitCommand(cmd.Statement)
	if err != nil {
		return nil, base.NewConnectorError(c.name(), "Execute", "parsing statement", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout(cmd.Timeout))
	defer cancel()

	start := time.Now()
	affected := 0

	switch verb {
	case "SET":
		value, ok := cmd.Parameters["value"]
		if !ok {
			return nil, base.NewConnectorError(c.name(), "Execute", "SET requires a value parameter", nil)
		}
		if err := c.client.Set(execCtx, arg, value, 0).Err(); err != nil {
			return nil, base.NewConnectorError(c.name(), "Execute", "SET failed", err)
		}
		affected = 1
	case "DEL":
		n, err := c.client.Del(execCtx, arg).Result()
		if err != nil {
			return nil, base.NewConnectorError(c.name(), "Execute", "DEL failed", err)
		}
		affected = int(n)
	default:
		return nil, base.NewConnectorError(c.name(), "Execute",
			fmt.Sprintf("unsupported write command %q", verb), nil)
	}

	return &base.CommandResult{
		Success:      true,
		RowsAffected: affected,
		Duration:     time.Since(start),
		Connector:    c.name(),
	}, nil
}

func (c *Connector) Name() string { return c.name() }
func (c *Connector) Type() string { return "redis" }

func (c *Connector) Capabilities() []string {
	return []string{"query", "execute", "key_value"}
}

func (c *Connector) name() string {
	if c.config == nil {
		return "redis"
	}
	return c.config.Name
}

func (c *Connector) timeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if c.config != nil && c.config.Timeout > 0 {
		return c.config.Timeout
	}
	return defaultTimeout
}

func splitCommand(statement string) (verb, arg string, err error) {
	parts := strings.Fields(statement)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected \"VERB argument\", got %q", statement)
	}
	return strings.ToUpper(parts[0]), parts[1], nil
}
