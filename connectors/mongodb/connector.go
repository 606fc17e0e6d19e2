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

// Package mongodb provides the MongoDB data-source connector. The query
// statement names a collection; parameters become the find filter.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"aegisflow/platform/connectors/base"
	"aegisflow/platform/shared/logger"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Connector implements base.Connector for MongoDB.
type Connector struct {
	config   *base.ConnectorConfig
	client   *mongo.Client
	database *mongo.Database
	log      *logger.Logger
}

func New() *Connector {
	return &Connector{log: logger.New("connector-mongodb")}
}

func (c *Connector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	c.config = config

	dbName, _ := config.Options["database"].(string)
	if dbName == "" {
		return base.NewConnectorError(config.Name, "Connect", "database option is required", nil)
	}

	clientOpts := options.Client().ApplyURI(config.ConnectionURL)
	if v, ok := config.Options["max_pool_size"].(int); ok {
		clientOpts.SetMaxPoolSize(uint64(v))
	}

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return base.NewConnectorError(config.Name, "Connect", "connecting to mongodb", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return base.NewConnectorError(config.Name, "Connect", "pinging mongodb", err)
	}

	c.client = client
	c.database = client.Database(dbName)
	c.log.Info("", "", "connected", map[string]interface{}{
		"source": config.Name, "database": dbName,
	})
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Disconnect(ctx); err != nil {
		return base.NewConnectorError(c.config.Name, "Disconnect", "disconnecting", err)
	}
	return nil
}

func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: "not connected"}, nil
	}
	start := time.Now()
	err := c.client.Ping(ctx, readpref.Primary())
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

// Query runs a find against the named collection. The collection name goes
// through the same allow/block lists as SQL tables.
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	if c.database == nil {
		return nil, base.NewConnectorError(c.name(), "Query", "not connected", nil)
	}
	if err := checkCollectionAccess(c.config, query.Statement); err != nil {
		return nil, base.NewConnectorError(c.name(), "Query", "collection access denied", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout(query.Timeout))
	defer cancel()

	filter := bson.M{}
	for k, v := range query.Parameters {
		filter[k] = v
	}

	findOpts := options.Find()
	if query.Limit > 0 {
		findOpts.SetLimit(int64(query.Limit))
	}

	start := time.Now()
	cursor, err := c.database.Collection(query.Statement).Find(queryCtx, filter, findOpts)
	if err != nil {
		return nil, base.NewConnectorError(c.name(), "Query", "find failed", err)
	}
	defer cursor.Close(queryCtx)

	rows := make([]map[string]interface{}, 0)
	for cursor.Next(queryCtx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, base.NewConnectorError(c.name(), "Query", "decoding document", err)
		}
		rows = append(rows, map[string]interface{}(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, base.NewConnectorError(c.name(), "Query", "cursor iteration", err)
	}

	return &base.QueryResult{
		Rows:      rows,
		RowCount:  len(rows),
		Duration:  time.Since(start),
		Connector: c.name(),
	}, nil
}

// Execute supports insert and delete actions on a collection.
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.database == nil {
		return nil, base.NewConnectorError(c.name(), "Execute", "not connected", nil)
	}
	if err := checkCollectionAccess(c.config, cmd.Statement); err != nil {
		return nil, base.NewConnectorError(c.name(), "Execute", "collection access denied", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout(cmd.Timeout))
	defer cancel()

	coll := c.database.Collection(cmd.Statement)
	start := time.Now()
	affected := 0

	switch cmd.Action {
	case "insert":
		doc := bson.M{}
		for k, v := range cmd.Parameters {
			doc[k] = v
		}
		if _, err := coll.InsertOne(execCtx, doc); err != nil {
			return nil, base.NewConnectorError(c.name(), "Execute", "insert failed", err)
		}
		affected = 1
	case "delete":
		filter := bson.M{}
		for k, v := range cmd.Parameters {
			filter[k] = v
		}
		res, err := coll.DeleteMany(execCtx, filter)
		if err != nil {
			return nil, base.NewConnectorError(c.name(), "Execute", "delete failed", err)
		}
		affected = int(res.DeletedCount)
	default:
		return nil, base.NewConnectorError(c.name(), "Execute",
			fmt.Sprintf("unsupported action %q", cmd.Action), nil)
	}

	return &base.CommandResult{
		Success:      true,
		RowsAffected: affected,
		Duration:     time.Since(start),
		Connector:    c.name(),
	}, nil
}

func (c *Connector) Name() string { return c.name() }
func (c *Connector) Type() string { return "mongodb" }

func (c *Connector) Capabilities() []string {
	return []string{"query", "execute", "documents"}
}

func (c *Connector) name() string {
	if c.config == nil {
		return "mongodb"
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

// checkCollectionAccess reuses the SQL table lists for collection names.
func checkCollectionAccess(cfg *base.ConnectorConfig, collection string) error {
	if cfg == nil {
		return nil
	}
	// Render the collection as a FROM clause so one policy covers both.
	return base.CheckTableAccess(cfg, "FROM "+collection)
}
