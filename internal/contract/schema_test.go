// ABOUTME: Contract tests for the board database schema to detect breaking changes.
// ABOUTME: Validates that expected tables, columns, indexes and default grants exist in SQLite.

package contract

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/board-gateway/internal/store"
)

// expectedSchema is the column contract for every table. Removing or renaming
// one of these breaks databases written by older gateways.
var expectedSchema = map[string][]string{
	"boards": {
		"board_key", "project_scope", "created_at",
	},
	"containers": {
		"uuid", "board_key", "name", "container_order", "created_at",
	},
	"tasks": {
		"uuid", "board_key", "container_uuid", "name", "description",
		"status", "importance", "due_date", "estimated_hours",
		"reminder_date", "labels_json", "dependencies_json",
		"custom_fields_json", "created_by", "assigned_to",
		"created_at", "last_updated", "last_updated_by", "archived",
	},
	"users": {
		"id", "display_name", "created_at",
	},
	"sessions": {
		"token_hash", "user_id", "created_at", "expires_at",
	},
	"project_members": {
		"project_scope", "user_id", "role", "active", "created_at",
	},
	"role_permissions": {
		"role", "resource", "action",
	},
}

// setupTestDB creates a database through the store and opens a second
// connection to inspect it.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "contract_test.db")

	sqliteStore, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err, "failed to create SQLite store")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err, "failed to open database")

	t.Cleanup(func() {
		db.Close()
		sqliteStore.Close()
	})
	return db
}

func getTableColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}
	return columns, nil
}

func queryNames(t *testing.T, db *sql.DB, kind string) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(context.Background(),
		"SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%'", kind)
	require.NoError(t, err)
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names[name] = true
	}
	require.NoError(t, rows.Err())
	return names
}

func TestSchemaSurface(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for table, expectedCols := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			actualCols, err := getTableColumns(ctx, db, table)
			if !assert.NoError(t, err, "failed to get columns for table %s", table) {
				return
			}
			if !assert.NotEmpty(t, actualCols, "table %s should exist and have columns", table) {
				return
			}

			for _, col := range expectedCols {
				assert.True(t, actualCols[col], "column %s.%s should exist", table, col)
			}
			for col := range actualCols {
				if !slices.Contains(expectedCols, col) {
					t.Logf("INFO: extra column %s.%s not in contract (consider adding)", table, col)
				}
			}
		})
	}
}

func TestTablesExist(t *testing.T) {
	tables := queryNames(t, setupTestDB(t), "table")
	for table := range expectedSchema {
		assert.True(t, tables[table], "table %s should exist", table)
	}
}

// Board snapshots and task listings scan these.
func TestSchemaHasIndexes(t *testing.T) {
	indexes := queryNames(t, setupTestDB(t), "index")
	for _, idx := range []string{
		"idx_boards_project",
		"idx_containers_board",
		"idx_tasks_board",
		"idx_tasks_container",
		"idx_sessions_user",
	} {
		assert.True(t, indexes[idx], "index %s should exist", idx)
	}
}

func TestDefaultGrantsSeeded(t *testing.T) {
	db := setupTestDB(t)

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM role_permissions WHERE role = 'guest' AND resource = 'task' AND action = 'read'`,
	).Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM role_permissions WHERE role = 'guest' AND action = 'manage'`,
	).Scan(&n))
	assert.Zero(t, n, "guests must not be able to manage tasks")
}
