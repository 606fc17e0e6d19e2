// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisflow/platform/connectors/base"
)

func TestNewBackend(t *testing.T) {
	for _, typ := range []string{"postgres", "mysql", "mongodb", "redis", "s3"} {
		backend, err := NewBackend(&base.ConnectorConfig{Name: "src", Type: typ})
		require.NoError(t, err, typ)
		assert.Equal(t, typ, backend.Type())
	}

	_, err := NewBackend(&base.ConnectorConfig{Name: "src", Type: "cassandra"})
	require.Error(t, err)
}

func TestRegistry_Lookup(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSecure("crm", nil))
	require.Error(t, r.AddSecure("crm", nil), "duplicate name")

	_, err := r.Get("crm")
	assert.NoError(t, err)
	_, err = r.Get("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"crm"}, r.Names())
}
