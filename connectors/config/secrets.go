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

// Package config loads data source definitions for the gateway and
// resolves their credentials from a secrets backend.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"aegisflow/platform/shared/logger"
)

// SecretsManager resolves a secret reference to a credentials map.
type SecretsManager interface {
	GetSecret(ctx context.Context, ref string) (map[string]string, error)
}

// SecretValueAPI is the Secrets Manager surface used here, extracted for
// tests.
type SecretValueAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecrets resolves references through AWS Secrets Manager with a
// short-lived in-process cache.
type AWSSecrets struct {
	client SecretValueAPI
	ttl    time.Duration
	log    *logger.Logger

	mu    sync.Mutex
	cache map[string]*secretCacheEntry
	now   func() time.Time
}

// NewAWSSecrets builds a resolver against the default AWS credential chain.
func NewAWSSecrets(ctx context.Context, region string, ttl time.Duration) (*AWSSecrets, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewAWSSecretsWithClient(secretsmanager.NewFromConfig(cfg), ttl), nil
}

// NewAWSSecretsWithClient wraps an existing client, used by tests.
func NewAWSSecretsWithClient(client SecretValueAPI, ttl time.Duration) *AWSSecrets {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AWSSecrets{
		client: client,
		ttl:    ttl,
		log:    logger.New("secrets"),
		cache:  make(map[string]*secretCacheEntry),
		now:    time.Now,
	}
}

// GetSecret fetches and caches a secret. JSON object values decode to a
// map; any other payload becomes {"value": <payload>}.
func (s *AWSSecrets) GetSecret(ctx context.Context, ref string) (map[string]string, error) {
	s.mu.Lock()
	entry, ok := s.cache[ref]
	if ok && s.now().Before(entry.expiresAt) {
		value := entry.value
		s.mu.Unlock()
		return value, nil
	}
	s.mu.Unlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching secret %s: %w", maskRef(ref), err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskRef(ref))
	}

	var creds map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &creds); err != nil {
		creds = map[string]string{"value": *out.SecretString}
	}

	s.mu.Lock()
	s.cache[ref] = &secretCacheEntry{value: creds, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()

	s.log.Debug("", "", "secret resolved", map[string]interface{}{"ref": maskRef(ref)})
	return creds, nil
}

// Invalidate drops a cached secret so the next read refetches.
func (s *AWSSecrets) Invalidate(ref string) {
	s.mu.Lock()
	delete(s.cache, ref)
	s.mu.Unlock()
}

// maskRef keeps only the tail of a secret reference for logs.
func maskRef(ref string) string {
	if len(ref) <= 12 {
		return "***"
	}
	return "..." + ref[len(ref)-8:]
}

// EnvSecrets resolves a reference as an environment variable prefix:
// "CRM" reads CRM_USERNAME, CRM_PASSWORD, and so on.
type EnvSecrets struct{}

var envFields = map[string]string{
	"USERNAME":   "username",
	"PASSWORD":   "password",
	"API_KEY":    "api_key",
	"TOKEN":      "token",
	"ACCESS_KEY": "access_key",
	"SECRET_KEY": "secret_key",
	"HOST":       "host",
	"PORT":       "port",
	"DATABASE":   "database",
}

func (EnvSecrets) GetSecret(_ context.Context, ref string) (map[string]string, error) {
	creds := make(map[string]string)
	for suffix, key := range envFields {
		if value := os.Getenv(ref + "_" + suffix); value != "" {
			creds[key] = value
		}
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("no credentials in environment for prefix %s", ref)
	}
	return creds, nil
}

// StaticSecrets serves fixed values, used by tests and local setups.
type StaticSecrets map[string]map[string]string

func (s StaticSecrets) GetSecret(_ context.Context, ref string) (map[string]string, error) {
	creds, ok := s[ref]
	if !ok {
		return nil, fmt.Errorf("secret %s not found", maskRef(ref))
	}
	return creds, nil
}
