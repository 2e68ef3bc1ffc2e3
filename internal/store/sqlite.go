// ABOUTME: SQLite implementation of the BoardStore and IdentityStore using modernc.org/sqlite
// ABOUTME: Provides board/task persistence and identity tables with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements BoardStore and IdentityStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dsn := path
	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		// Pragmas in the DSN apply to every pooled connection, not just the first
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Every new connection to :memory: is a separate empty database
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.seedPermissions(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding permissions: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS boards (
			board_key     TEXT PRIMARY KEY,
			project_scope TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_boards_project ON boards(project_scope);

		CREATE TABLE IF NOT EXISTS containers (
			uuid            TEXT PRIMARY KEY,
			board_key       TEXT NOT NULL,
			name            TEXT NOT NULL,
			container_order INTEGER NOT NULL,
			created_at      TEXT NOT NULL,

			UNIQUE (board_key, container_order)
		);

		CREATE INDEX IF NOT EXISTS idx_containers_board ON containers(board_key, container_order);

		CREATE TABLE IF NOT EXISTS tasks (
			uuid               TEXT PRIMARY KEY,
			board_key          TEXT NOT NULL,
			container_uuid     TEXT NOT NULL REFERENCES containers(uuid) ON DELETE CASCADE,
			name               TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL,
			importance         TEXT NOT NULL,
			due_date           TEXT NOT NULL,
			estimated_hours    REAL,
			reminder_date      TEXT,
			labels_json        TEXT NOT NULL DEFAULT '[]',
			dependencies_json  TEXT NOT NULL DEFAULT '[]',
			custom_fields_json TEXT,
			created_by         TEXT NOT NULL,
			assigned_to        TEXT,
			created_at         TEXT NOT NULL,
			last_updated       TEXT NOT NULL,
			last_updated_by    TEXT NOT NULL,
			archived           INTEGER NOT NULL DEFAULT 0,

			CHECK (importance IN ('Low', 'Medium', 'High'))
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_board ON tasks(board_key);
		CREATE INDEX IF NOT EXISTS idx_tasks_container ON tasks(container_uuid, due_date);

		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			token_hash TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,
			expires_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

		CREATE TABLE IF NOT EXISTS project_members (
			project_scope TEXT NOT NULL,
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role          TEXT NOT NULL,
			active        INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL,

			PRIMARY KEY (project_scope, user_id),
			CHECK (role IN ('owner', 'admin', 'member', 'guest'))
		);

		CREATE TABLE IF NOT EXISTS role_permissions (
			role     TEXT NOT NULL,
			resource TEXT NOT NULL,
			action   TEXT NOT NULL,

			PRIMARY KEY (role, resource, action)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// defaultGrants are inserted on every start; existing rows are left alone.
// Owners are allowed everything by the gate and need no rows.
var defaultGrants = []struct {
	role     RoleName
	resource string
	action   string
}{
	{RoleAdmin, "task", "read"},
	{RoleAdmin, "task", "create"},
	{RoleAdmin, "task", "manage"},
	{RoleAdmin, "task", "delete"},
	{RoleMember, "task", "read"},
	{RoleMember, "task", "create"},
	{RoleMember, "task", "manage"},
	{RoleGuest, "task", "read"},
}

// seedPermissions installs the default role grants. Idempotent.
func (s *SQLiteStore) seedPermissions() error {
	for _, g := range defaultGrants {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO role_permissions (role, resource, action) VALUES (?, ?, ?)`,
			g.role, g.resource, g.action,
		); err != nil {
			return fmt.Errorf("granting %s %s:%s: %w", g.role, g.resource, g.action, err)
		}
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings so optional columns stay NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}
