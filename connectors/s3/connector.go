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

// Package s3 provides the S3 data-source connector. "GET key" fetches one
// object, "LIST prefix" lists keys under a prefix.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"aegisflow/platform/connectors/base"
	"aegisflow/platform/shared/logger"
)

const (
	defaultTimeout = 30 * time.Second

	// maxObjectBytes caps how much of an object is read into a row.
	maxObjectBytes = 1 << 20
)

// ObjectAPI is the slice of the S3 client the connector uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput,
		optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput,
		optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput,
		optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Connector implements base.Connector for S3 object storage.
type Connector struct {
	config *base.ConnectorConfig
	client ObjectAPI
	bucket string
	log    *logger.Logger
}

func New() *Connector {
	return &Connector{log: logger.New("connector-s3")}
}

// NewWithClient wires an existing client, used by tests.
func NewWithClient(client ObjectAPI, bucket string, cfg *base.ConnectorConfig) *Connector {
	return &Connector{config: cfg, client: client, bucket: bucket, log: logger.New("connector-s3")}
}

func (c *Connector) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	c.config = config

	bucket, _ := config.Options["bucket"].(string)
	if bucket == "" {
		return base.NewConnectorError(config.Name, "Connect", "bucket option is required", nil)
	}
	region, _ := config.Options["region"].(string)

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return base.NewConnectorError(config.Name, "Connect", "loading AWS config", err)
	}

	c.client = s3.NewFromConfig(awsCfg)
	c.bucket = bucket
	c.log.Info("", "", "connected", map[string]interface{}{
		"source": config.Name, "bucket": bucket,
	})
	return nil
}

func (c *Connector) Disconnect(context.Context) error { return nil }

func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: "not connected"}, nil
	}
	start := time.Now()
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
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
	if c.client == nil {
		return nil, base.NewConnectorError(c.name(), "Query", "not connected", nil)
	}

	verb, arg, err := splitStatement(query.Statement)
	if err != nil {
		return nil, base.NewConnectorError(c.name(), "Query", "parsing statement", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout(query.Timeout))
	defer cancel()

	start := time.Now()
	var rows []map[string]interface{}

	switch verb {
	case "GET":
		out, err := c.client.GetObject(queryCtx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(arg),
		})
		if err != nil {
			return nil, base.NewConnectorError(c.name(), "Query", "GetObject failed", err)
		}
		body, err := io.ReadAll(io.LimitReader(out.Body, maxObjectBytes))
		out.Body.Close()
		if err != nil {
			return nil, base.NewConnectorError(c.name(), "Query", "reading object body", err)
		}
		rows = []map[string]interface{}{{"key": arg, "content": string(body)}}
	case "LIST":
		out, err := c.client.ListObjectsV2(queryCtx, &s3.ListObjectsV2Input{
			Bucket: aws.String(c.bucket),
			Prefix: aws.String(arg),
		})
		if err != nil {
			return nil, base.NewConnectorError(c.name(), "Query", "ListObjectsV2 failed", err)
		}
		for _, obj := range out.Contents {
			if query.Limit > 0 && len(rows) >= query.Limit {
				break
			}
			rows = append(rows, map[string]interface{}{
				"key":  aws.ToString(obj.Key),
				"size": aws.ToInt64(obj.Size),
			})
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

// Execute supports "PUT key" with a content parameter and "DELETE key".
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.name(), "Execute", "not connected", nil)
	}

	verb, arg, err := splitStatement(cmd.Statement)
	if err != nil {
		return nil, base.NewConnectorError(c.name(), "Execute", "parsing statement", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout(cmd.Timeout))
	defer cancel()

	start := time.Now()

	switch verb {
	case "PUT":
		content, ok := cmd.Parameters["content"].(string)
		if !ok {
			return nil, base.NewConnectorError(c.name(), "Execute", "PUT requires a content parameter", nil)
		}
		_, err := c.client.PutObject(execCtx, &s3.PutObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(arg),
			Body:   strings.NewReader(content),
		})
		if err != nil {
			return nil, base.NewConnectorError(c.name(), "Execute", "PutObject failed", err)
		}
	case "DELETE":
		_, err := c.client.DeleteObject(execCtx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(arg),
		})
		if err != nil {
			return nil, base.NewConnectorError(c.name(), "Execute", "DeleteObject failed", err)
		}
	default:
		return nil, base.NewConnectorError(c.name(), "Execute",
			fmt.Sprintf("unsupported write command %q", verb), nil)
	}

	return &base.CommandResult{
		Success:      true,
		RowsAffected: 1,
		Duration:     time.Since(start),
		Connector:    c.name(),
	}, nil
}

func (c *Connector) Name() string { return c.name() }
func (c *Connector) Type() string { return "s3" }

func (c *Connector) Capabilities() []string {
	return []string{"query", "execute", "objects"}
}

func (c *Connector) name() string {
	if c.config == nil {
		return "s3"
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

func splitStatement(statement string) (verb, arg string, err error) {
	parts := strings.Fields(statement)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected \"VERB key\", got %q", statement)
	}
	return strings.ToUpper(parts[0]), parts[1], nil
}
