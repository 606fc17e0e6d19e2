// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0

package mysql

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisflow/platform/connectors/base"
)

func TestConnector_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewWithDB(db, &base.ConnectorConfig{Name: "inventory"})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT sku, qty FROM stock")).
		WillReturnRows(sqlmock.NewRows([]string{"sku", "qty"}).
			AddRow([]byte("SKU-1"), int64(7)))

	result, err := c.Query(context.Background(), &base.Query{Statement: "SELECT sku, qty FROM stock"})
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount)
	assert.Equal(t, "SKU-1", result.Rows[0]["sku"])
	assert.Equal(t, int64(7), result.Rows[0]["qty"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnector_BlockedTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewWithDB(db, &base.ConnectorConfig{
		Name:          "inventory",
		BlockedTables: []string{"user_secrets"},
	})

	_, err = c.Query(context.Background(), &base.Query{Statement: "SELECT * FROM user_secrets"})
	require.Error(t, err)
}

func TestConnector_Execute(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewWithDB(db, &base.ConnectorConfig{Name: "inventory"})

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM stock WHERE qty = ?")).
		WithArgs(0).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := c.Execute(context.Background(), &base.Command{
		Action:     "DELETE",
		Statement:  "DELETE FROM stock WHERE qty = ?",
		Parameters: map[string]interface{}{"p1": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
