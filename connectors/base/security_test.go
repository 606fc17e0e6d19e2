// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0

package base

import (
	"reflect"
	"strings"
	"testing"
)

func TestTablesReferenced(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		want      []string
	}{
		{
			name:      "simple select",
			statement: "SELECT * FROM orders WHERE id = $1",
			want:      []string{"orders"},
		},
		{
			name:      "join",
			statement: "SELECT o.id FROM orders o JOIN customers c ON c.id = o.customer_id",
			want:      []string{"orders", "customers"},
		},
		{
			name:      "schema qualified",
			statement: "SELECT * FROM public.orders",
			want:      []string{"orders"},
		},
		{
			name:      "insert",
			statement: "INSERT INTO audit_log (msg) VALUES ($1)",
			want:      []string{"audit_log"},
		},
		{
			name:      "update",
			statement: "UPDATE users SET name = $1",
			want:      []string{"users"},
		},
		{
			name:      "no tables",
			statement: "SELECT 1",
			want:      nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TablesReferenced(tt.statement)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TablesReferenced(%q) = %v, want %v", tt.statement, got, tt.want)
			}
		})
	}
}

func TestCheckTableAccess(t *testing.T) {
	cfg := &ConnectorConfig{
		Name:          "crm",
		AllowedTables: []string{"orders", "customers"},
		BlockedTables: []string{"credentials"},
	}

	if err := CheckTableAccess(cfg, "SELECT * FROM orders"); err != nil {
		t.Errorf("allowed table rejected: %v", err)
	}
	if err := CheckTableAccess(cfg, "SELECT * FROM credentials"); err == nil {
		t.Error("blocked table accepted")
	}
	if err := CheckTableAccess(cfg, "SELECT * FROM payroll"); err == nil {
		t.Error("table outside allow list accepted")
	}

	// Block list wins even when the table is also allowed.
	both := &ConnectorConfig{
		Name:          "crm",
		AllowedTables: []string{"secrets"},
		BlockedTables: []string{"secrets"},
	}
	if err := CheckTableAccess(both, "SELECT * FROM secrets"); err == nil {
		t.Error("blocked table accepted despite allow list entry")
	}

	// No lists means no restriction.
	if err := CheckTableAccess(&ConnectorConfig{Name: "open"}, "SELECT * FROM anything"); err != nil {
		t.Errorf("unrestricted config rejected: %v", err)
	}
}

func TestValidateSQLIdentifier(t *testing.T) {
	for _, ok := range []string{"orders", "order_items", "_private", "t1"} {
		if err := ValidateSQLIdentifier(ok); err != nil {
			t.Errorf("ValidateSQLIdentifier(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"", "1table", "orders; DROP TABLE users", "SELECT", "a-b"} {
		if err := ValidateSQLIdentifier(bad); err == nil {
			t.Errorf("ValidateSQLIdentifier(%q) = nil, want error", bad)
		}
	}
}

func TestSanitizeLogString(t *testing.T) {
	got := SanitizeLogString("line1\nline2\r\x1b[31mred\x1b[0m")
	if strings.ContainsAny(got, "\n\r\x1b") {
		t.Errorf("control characters survived: %q", got)
	}

	long := strings.Repeat("a", 600)
	got = SanitizeLogString(long)
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Errorf("long string not truncated: %d bytes", len(got))
	}
}
