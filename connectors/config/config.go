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

package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"aegisflow/platform/connectors/base"
)

// SourceSpec is one data source entry in the sources file.
type SourceSpec struct {
	Name          string                 `yaml:"name"`
	Type          string                 `yaml:"type"`
	URL           string                 `yaml:"url,omitempty"`
	SecretRef     string                 `yaml:"secretRef,omitempty"`
	Options       map[string]interface{} `yaml:"options,omitempty"`
	Timeout       string                 `yaml:"timeout,omitempty"`
	AllowedTables []string               `yaml:"allowedTables,omitempty"`
	BlockedTables []string               `yaml:"blockedTables,omitempty"`
}

// SourcesFile is the YAML document listing the gateway's data sources.
type SourcesFile struct {
	Sources []SourceSpec `yaml:"sources"`
}

// LoadSources reads a sources file and resolves each entry into a
// connector config, fetching credentials through the secrets resolver
// when a secretRef is set. A nil resolver rejects entries with refs.
func LoadSources(ctx context.Context, path string, secrets SecretsManager) ([]*base.ConnectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}
	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing sources file: %w", err)
	}

	seen := make(map[string]bool, len(file.Sources))
	out := make([]*base.ConnectorConfig, 0, len(file.Sources))
	for i, spec := range file.Sources {
		cfg, err := resolveSpec(ctx, spec, secrets)
		if err != nil {
			return nil, fmt.Errorf("source %d (%s): %w", i, spec.Name, err)
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate source name %q", cfg.Name)
		}
		seen[cfg.Name] = true
		out = append(out, cfg)
	}
	return out, nil
}

func resolveSpec(ctx context.Context, spec SourceSpec, secrets SecretsManager) (*base.ConnectorConfig, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if spec.Type == "" {
		return nil, fmt.Errorf("type is required")
	}

	cfg := &base.ConnectorConfig{
		Name:          spec.Name,
		Type:          spec.Type,
		ConnectionURL: spec.URL,
		Options:       spec.Options,
		AllowedTables: spec.AllowedTables,
		BlockedTables: spec.BlockedTables,
	}
	if spec.Timeout != "" {
		timeout, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q", spec.Timeout)
		}
		cfg.Timeout = timeout
	}

	if spec.SecretRef != "" {
		if secrets == nil {
			return nil, fmt.Errorf("secretRef set but no secrets resolver configured")
		}
		creds, err := secrets.GetSecret(ctx, spec.SecretRef)
		if err != nil {
			return nil, err
		}
		cfg.Credentials = creds
		// A resolved URL credential overrides the inline one so
		// connection strings with embedded passwords stay out of
		// the sources file.
		if url, ok := creds["url"]; ok && url != "" {
			cfg.ConnectionURL = url
		}
	}

	if cfg.ConnectionURL == "" && spec.Type != "s3" {
		return nil, fmt.Errorf("url is required for %s sources", spec.Type)
	}
	return cfg, nil
}
