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

package base

import (
	"context"
	"time"
)

// Connector is the contract every data-source backend implements.
type Connector interface {
	Connect(ctx context.Context, config *ConnectorConfig) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Query is a read operation.
	Query(ctx context.Context, query *Query) (*QueryResult, error)

	// Execute is a write operation.
	Execute(ctx context.Context, cmd *Command) (*CommandResult, error)

	Name() string
	Type() string
	Capabilities() []string
}

// ConnectorConfig holds the configuration for one data source.
type ConnectorConfig struct {
	Name          string                 `json:"name"`
	Type          string                 `json:"type"` // postgres, mysql, mongodb, redis, s3
	ConnectionURL string                 `json:"connection_url"`
	Credentials   map[string]string      `json:"credentials,omitempty"`
	Options       map[string]interface{} `json:"options,omitempty"`
	Timeout       time.Duration          `json:"timeout"`

	// Table-level access control, enforced before any statement runs.
	AllowedTables []string `json:"allowed_tables,omitempty"`
	BlockedTables []string `json:"blocked_tables,omitempty"`
}

// Query is a read request. Statement is SQL for the relational backends, a
// collection name for MongoDB, a command string for Redis, an object key or
// prefix for S3.
type Query struct {
	Statement  string                 `json:"statement"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Timeout    time.Duration          `json:"timeout,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
}

// QueryResult carries rows as key-value maps so every backend renders the
// same shape for downstream risk analysis.
type QueryResult struct {
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Duration  time.Duration            `json:"duration"`
	Connector string                   `json:"connector"`
	Metadata  map[string]interface{}   `json:"metadata,omitempty"`
}

// Command is a write request.
type Command struct {
	Action     string                 `json:"action"`
	Statement  string                 `json:"statement"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Timeout    time.Duration          `json:"timeout,omitempty"`
}

// CommandResult reports the outcome of a Command.
type CommandResult struct {
	Success      bool          `json:"success"`
	RowsAffected int           `json:"rows_affected"`
	Duration     time.Duration `json:"duration"`
	Message      string        `json:"message,omitempty"`
	Connector    string        `json:"connector"`
}

// HealthStatus reports connector health.
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Latency   time.Duration     `json:"latency"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Error     string            `json:"error,omitempty"`
}

// ConnectorError tags a failure with its source and operation.
type ConnectorError struct {
	ConnectorName string
	Operation     string
	Message       string
	Cause         error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return e.ConnectorName + "." + e.Operation + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.ConnectorName + "." + e.Operation + ": " + e.Message
}

func (e *ConnectorError) Unwrap() error { return e.Cause }

// NewConnectorError builds a tagged connector error.
func NewConnectorError(connectorName, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		ConnectorName: connectorName,
		Operation:     operation,
		Message:       message,
		Cause:         cause,
	}
}
