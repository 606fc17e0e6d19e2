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
	"fmt"
	"regexp"
	"strings"
)

// tableRefRe pulls table names out of SQL after FROM, JOIN, INTO and UPDATE.
// Schema-qualified names keep their last segment.
var tableRefRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN|INTO|UPDATE)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// TablesReferenced extracts the table names a SQL statement touches,
// lowercased and deduplicated.
func TablesReferenced(statement string) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, match := range tableRefRe.FindAllStringSubmatch(statement, -1) {
		name := strings.ToLower(match[1])
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	return tables
}

// CheckTableAccess enforces the config's allow and block lists against a SQL
// statement. A block list wins over an allow list; an empty allow list means
// every non-blocked table is permitted.
func CheckTableAccess(cfg *ConnectorConfig, statement string) error {
	if cfg == nil || (len(cfg.AllowedTables) == 0 && len(cfg.BlockedTables) == 0) {
		return nil
	}

	blocked := make(map[string]bool, len(cfg.BlockedTables))
	for _, t := range cfg.BlockedTables {
		blocked[strings.ToLower(t)] = true
	}
	allowed := make(map[string]bool, len(cfg.AllowedTables))
	for _, t := range cfg.AllowedTables {
		allowed[strings.ToLower(t)] = true
	}

	for _, table := range TablesReferenced(statement) {
		if blocked[table] {
			return fmt.Errorf("table %q is blocked for data source %q", table, cfg.Name)
		}
		if len(allowed) > 0 && !allowed[table] {
			return fmt.Errorf("table %q is not in the allowed list for data source %q", table, cfg.Name)
		}
	}
	return nil
}

// validIdentifierRe matches safe SQL identifiers.
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// sqlReservedWords are common reserved words rejected as identifiers.
var sqlReservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TABLE": true,
	"FROM": true, "WHERE": true, "JOIN": true, "UNION": true,
	"GRANT": true, "REVOKE": true, "TRUNCATE": true, "VALUES": true,
}

// ValidateSQLIdentifier rejects strings unsafe to interpolate as table or
// column names.
func ValidateSQLIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !validIdentifierRe.MatchString(identifier) {
		return fmt.Errorf("invalid SQL identifier: %q", identifier)
	}
	if sqlReservedWords[strings.ToUpper(identifier)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", identifier)
	}
	return nil
}

var ansiEscapeRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// SanitizeLogString neutralizes newlines and ANSI escapes so statements can
// be logged without log injection, and caps the length.
func SanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = ansiEscapeRe.ReplaceAllString(s, "")
	const maxLogLength = 500
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}
