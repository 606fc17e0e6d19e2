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

// Package secure wraps a data-source connector with the risk pipeline: every
// query result is rendered to text, analyzed, and blocked or sanitized before
// it reaches the model.
package secure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aegisflow/platform/connectors/base"
	"aegisflow/platform/gateway/risk"
	"aegisflow/platform/shared/logger"
	"aegisflow/platform/shared/types"
)

// DefaultBlockThreshold marks query results unsafe at or above this score.
const DefaultBlockThreshold = 7.0

// Config controls what the wrapper does with risky results.
type Config struct {
	BlockThreshold float64 // default 7.0
	Sanitize       bool    // replace detected PII in row values
	AssessRisk     bool    // run the pipeline at all
}

// DefaultConfig enables both sanitization and assessment.
func DefaultConfig() Config {
	return Config{BlockThreshold: DefaultBlockThreshold, Sanitize: true, AssessRisk: true}
}

// Result is a query result after risk processing.
type Result struct {
	Rows       []map[string]interface{} `json:"rows"`
	RowCount   int                      `json:"row_count"`
	Sanitized  bool                     `json:"sanitized"`
	Assessment *types.RiskAssessment    `json:"assessment,omitempty"`
	IsSafe     bool                     `json:"is_safe"`
	Warnings   []string                 `json:"warnings,omitempty"`
	Duration   time.Duration            `json:"duration"`
}

// Connector pairs a backend with the risk agent.
type Connector struct {
	conn  base.Connector
	agent *risk.Agent
	cfg   Config
	log   *logger.Logger
}

// New wraps a connected backend. A nil config falls back to defaults.
func New(conn base.Connector, agent *risk.Agent, cfg Config) (*Connector, error) {
	if conn == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if agent == nil && cfg.AssessRisk {
		return nil, fmt.Errorf("risk agent is required when assessment is enabled")
	}
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = DefaultBlockThreshold
	}
	return &Connector{
		conn:  conn,
		agent: agent,
		cfg:   cfg,
		log:   logger.New("secure-connector"),
	}, nil
}

// Query executes the backend query and runs the result through the pipeline.
// Unsafe results come back with no rows and the assessment explaining why.
func (c *Connector) Query(ctx context.Context, query *base.Query) (*Result, error) {
	start := time.Now()

	raw, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Rows:     raw.Rows,
		RowCount: raw.RowCount,
		IsSafe:   true,
		Duration: time.Since(start),
	}
	if !c.cfg.AssessRisk || len(raw.Rows) == 0 {
		return result, nil
	}

	rendered, err := renderRows(raw.Rows)
	if err != nil {
		result.Warnings = append(result.Warnings, "result rendering failed, returning unanalyzed rows")
		return result, nil
	}

	analysis := c.agent.Analyze(rendered)
	result.Assessment = analysis.Assessment

	if analysis.ShouldBlock || analysis.Assessment.OverallScore >= c.cfg.BlockThreshold {
		c.log.Warn("", "", "query result blocked", map[string]interface{}{
			"connector": c.conn.Name(),
			"score":     analysis.Assessment.OverallScore,
		})
		result.Rows = nil
		result.RowCount = 0
		result.IsSafe = false
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("result blocked: risk score %.1f", analysis.Assessment.OverallScore))
		result.Duration = time.Since(start)
		return result, nil
	}

	if c.cfg.Sanitize && len(analysis.Assessment.PIIEntities) > 0 {
		result.Rows = sanitizeRows(raw.Rows, analysis.Assessment.PIIEntities)
		result.Sanitized = true
	}
	result.Duration = time.Since(start)
	return result, nil
}

// HealthCheck delegates to the backend.
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return c.conn.HealthCheck(ctx)
}

// Name returns the backend's name.
func (c *Connector) Name() string { return c.conn.Name() }

// RenderText flattens a processed result into the text handed to the model
// as data context.
func (r *Result) RenderText() string {
	if len(r.Rows) == 0 {
		return ""
	}
	data, err := json.MarshalIndent(r.Rows, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func renderRows(rows []map[string]interface{}) (string, error) {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sanitizeRows replaces detected PII values inside string fields with a
// kind placeholder, leaving other fields untouched.
func sanitizeRows(rows []map[string]interface{}, entities []types.PIIEntity) []map[string]interface{} {
	sanitized := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		out := make(map[string]interface{}, len(row))
		for k, v := range row {
			s, ok := v.(string)
			if !ok {
				out[k] = v
				continue
			}
			for _, entity := range entities {
				value := entity.Span.OriginalText
				if value == "" || !strings.Contains(s, value) {
					continue
				}
				s = strings.ReplaceAll(s, value, placeholder(entity.Kind))
			}
			out[k] = s
		}
		sanitized[i] = out
	}
	return sanitized
}

func placeholder(kind types.PIIKind) string {
	return "[" + strings.ToUpper(string(kind)) + "]"
}
