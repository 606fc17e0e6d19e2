// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSources(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSources(t *testing.T) {
	path := writeSources(t, `
sources:
  - name: crm
    type: postgres
    url: postgres://localhost:5432/crm
    timeout: 10s
    blockedTables: [user_secrets]
  - name: exports
    type: s3
    options:
      bucket: exports
      region: us-east-1
`)

	cfgs, err := LoadSources(context.Background(), path, nil)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	assert.Equal(t, "crm", cfgs[0].Name)
	assert.Equal(t, "postgres", cfgs[0].Type)
	assert.Equal(t, 10*time.Second, cfgs[0].Timeout)
	assert.Equal(t, []string{"user_secrets"}, cfgs[0].BlockedTables)

	assert.Equal(t, "s3", cfgs[1].Type)
	assert.Equal(t, "exports", cfgs[1].Options["bucket"])
}

func TestLoadSources_SecretRef(t *testing.T) {
	path := writeSources(t, `
sources:
  - name: crm
    type: postgres
    url: postgres://localhost:5432/crm
    secretRef: prod/crm
`)

	secrets := StaticSecrets{
		"prod/crm": {
			"username": "svc",
			"password": "hunter2",
			"url":      "postgres://svc:hunter2@db:5432/crm",
		},
	}
	cfgs, err := LoadSources(context.Background(), path, secrets)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "svc", cfgs[0].Credentials["username"])
	assert.Equal(t, "postgres://svc:hunter2@db:5432/crm", cfgs[0].ConnectionURL,
		"resolved url replaces the inline one")
}

func TestLoadSources_Errors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing name", "sources:\n  - type: postgres\n    url: x\n"},
		{"missing type", "sources:\n  - name: a\n    url: x\n"},
		{"missing url", "sources:\n  - name: a\n    type: postgres\n"},
		{"bad timeout", "sources:\n  - name: a\n    type: postgres\n    url: x\n    timeout: soon\n"},
		{"duplicate", "sources:\n  - name: a\n    type: postgres\n    url: x\n  - name: a\n    type: redis\n    url: y\n"},
		{"secret without resolver", "sources:\n  - name: a\n    type: postgres\n    url: x\n    secretRef: ref\n"},
	}
	for _, tc := range cases {
		path := writeSources(t, tc.content)
		_, err := LoadSources(context.Background(), path, nil)
		assert.Error(t, err, tc.name)
	}
}

type fakeSecretsAPI struct {
	values map[string]string
	calls  int
	err    error
}

func (f *fakeSecretsAPI) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[aws.ToString(params.SecretId)]
	if !ok {
		return nil, errors.New("secret not found")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

func TestAWSSecrets_JSONAndCache(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{
		"arn:aws:secretsmanager:us-east-1:1:secret:prod/crm": `{"username":"svc","password":"hunter2"}`,
	}}
	s := NewAWSSecretsWithClient(api, time.Minute)

	creds, err := s.GetSecret(context.Background(), "arn:aws:secretsmanager:us-east-1:1:secret:prod/crm")
	require.NoError(t, err)
	assert.Equal(t, "svc", creds["username"])
	assert.Equal(t, "hunter2", creds["password"])

	_, err = s.GetSecret(context.Background(), "arn:aws:secretsmanager:us-east-1:1:secret:prod/crm")
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls, "second read served from cache")

	s.Invalidate("arn:aws:secretsmanager:us-east-1:1:secret:prod/crm")
	_, err = s.GetSecret(context.Background(), "arn:aws:secretsmanager:us-east-1:1:secret:prod/crm")
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls)
}

func TestAWSSecrets_PlainString(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{"ref-1234567890": "just-an-api-key"}}
	s := NewAWSSecretsWithClient(api, time.Minute)

	creds, err := s.GetSecret(context.Background(), "ref-1234567890")
	require.NoError(t, err)
	assert.Equal(t, "just-an-api-key", creds["value"])
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv("CRMTEST_USERNAME", "svc")
	t.Setenv("CRMTEST_PASSWORD", "hunter2")

	creds, err := EnvSecrets{}.GetSecret(context.Background(), "CRMTEST")
	require.NoError(t, err)
	assert.Equal(t, "svc", creds["username"])
	assert.Equal(t, "hunter2", creds["password"])

	_, err = EnvSecrets{}.GetSecret(context.Background(), "NOPE")
	assert.Error(t, err)
}
