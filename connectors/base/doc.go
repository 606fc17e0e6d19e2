// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0

// Package base defines the connector contract shared by every data-source
// backend, plus the table access controls enforced before a statement runs.
package base
