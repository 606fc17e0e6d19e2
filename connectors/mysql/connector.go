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

// Package mysql provides the MySQL data-source connector.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"aegisflow/platform/connectors/base"
	"aegisflow/platform/shared/logger"
)

const defaultTimeout = 30 * time.Second

// Connector implements base.Connector for MySQL.
type Connector struct {
	config *base.ConnectorConfig
	db     *sql.DB
	log    *logger.Logger
}

func New() *Connector {
	return &Connector{log: logger.New("connector-mysql")}
}

// NewWithDB wires an existing pool, used by tests.
func NewWithDB(db *sql.DB, cfg *base.ConnectorConfig) *Connector {
	return &Connector{config: cfg, db: db, log: logger.New("connector-mysql")}
}

func (c *Connector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	c.config = config

	db, err := sql.Open("mysql", config.ConnectionURL)
	if err != nil {
		return base.NewConnectorError(config.Name, "Connect", "opening connection", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return base.NewConnectorError(config.Name, "Connect", "pinging database", err)
	}

	c.db = db
	c.log.Info("", "", "connected", map[string]interface{}{"source": config.Name})
	return nil
}

func (c *Connector) Disconnect(context.Context) error {
	if c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return base.NewConnectorError(c.config.Name, "Disconnect", "closing connection", err)
	}
	return nil
}

func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.db == nil {
		return &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: "not connected"}, nil
	}
	start := time.Now()
	err := c.db.PingContext(ctx)
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

func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	if c.db == nil {
		return nil, base.NewConnectorError(c.name(), "Query", "not connected", nil)
	}
	if err := base.CheckTableAccess(c.config, query.Statement); err != nil {
		return nil, base.NewConnectorError(c.name(), "Query", "table access denied", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout(query.Timeout))
	defer cancel()

	start := time.Now()
	rows, err := c.db.QueryContext(queryCtx, query.Statement, orderedArgs(query.Parameters)...)
	if err != nil {
		return nil, base.NewConnectorError(c.name(), "Query", "query execution failed", err)
	}
	defer rows.Close()

	results, err := scanRows(rows, query.Limit)
	if err != nil {
		return nil, base.NewConnectorError(c.name(), "Query", "scanning rows", err)
	}

	return &base.QueryResult{
		Rows:      results,
		RowCount:  len(results),
		Duration:  time.Since(start),
		Connector: c.name(),
	}, nil
}

func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.db == nil {
		return nil, base.NewConnectorError(c.name(), "Execute", "not connected", nil)
	}
	if err := base.CheckTableAccess(c.config, cmd.Statement); err != nil {
		return nil, base.NewConnectorError(c.name(), "Execute", "table access denied", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout(cmd.Timeout))
	defer cancel()

	start := time.Now()
	result, err := c.db.ExecContext(execCtx, cmd.Statement, orderedArgs(cmd.Parameters)...)
	if err != nil {
		return nil, base.NewConnectorError(c.name(), "Execute", "command execution failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &base.CommandResult{
		Success:      true,
		RowsAffected: int(affected),
		Duration:     time.Since(start),
		Connector:    c.name(),
	}, nil
}

func (c *Connector) Name() string { return c.name() }
func (c *Connector) Type() string { return "mysql" }

func (c *Connector) Capabilities() []string {
	return []string{"query", "execute", "transactions"}
}

func (c *Connector) name() string {
	if c.config == nil {
		return "mysql"
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

func orderedArgs(params map[string]interface{}) []interface{} {
	if len(params) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(params))
	for i := 1; ; i++ {
		v, ok := params[fmt.Sprintf("p%d", i)]
		if !ok {
			break
		}
		args = append(args, v)
	}
	if len(args) == len(params) {
		return args
	}
	args = args[:0]
	for _, v := range params {
		args = append(args, v)
	}
	return args
}

func scanRows(rows *sql.Rows, limit int) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		if limit > 0 && len(results) >= limit {
			break
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
