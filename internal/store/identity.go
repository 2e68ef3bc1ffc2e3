// ABOUTME: Users, sessions, project memberships and role grants for the SQLite store
// ABOUTME: Backs the permission gate's identity lookup and RBAC checks

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// HashSessionToken returns the stored form of an opaque session token.
// Raw tokens are never persisted.
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateUser inserts a user. Returns ErrDuplicate if the id is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, created_at) VALUES (?, ?, ?)`,
		u.ID, u.DisplayName, formatTime(u.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", u.ID)
	return nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CountUsers returns how many users exist.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// CreateSession stores a session for userID. A zero expiresAt never expires.
func (s *SQLiteStore) CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) error {
	expires := ""
	if !expiresAt.IsZero() {
		expires = formatTime(expiresAt)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		HashSessionToken(token), userID, formatTime(time.Now()), nullString(expires),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSessionUser resolves a session token to its user id. Expired and
// unknown sessions both return ErrNotFound.
func (s *SQLiteStore) GetSessionUser(ctx context.Context, token string) (string, error) {
	var userID string
	var expires sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM sessions WHERE token_hash = ?`,
		HashSessionToken(token),
	).Scan(&userID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting session: %w", err)
	}

	if expires.Valid {
		expiresAt, err := parseTime(expires.String)
		if err != nil {
			return "", err
		}
		if time.Now().After(expiresAt) {
			return "", ErrNotFound
		}
	}
	return userID, nil
}

// SetMembership creates or replaces a user's role in a project scope.
func (s *SQLiteStore) SetMembership(ctx context.Context, m *Membership) error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_scope, user_id, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (project_scope, user_id) DO UPDATE SET role = excluded.role, active = excluded.active
	`, m.ProjectScope, m.UserID, m.Role, m.Active, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("setting membership: %w", err)
	}

	s.logger.Debug("set membership", "project_scope", m.ProjectScope, "user_id", m.UserID, "role", m.Role)
	return nil
}

// GetMemberRole returns the user's active role in the project.
func (s *SQLiteStore) GetMemberRole(ctx context.Context, userID, projectScope string) (RoleName, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM project_members
		WHERE user_id = ? AND project_scope = ? AND active = 1
	`, userID, projectScope).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting member role: %w", err)
	}
	return RoleName(role), nil
}

// GrantPermission adds a (resource, action) grant to a role. Idempotent.
func (s *SQLiteStore) GrantPermission(ctx context.Context, role RoleName, resource, action string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO role_permissions (role, resource, action) VALUES (?, ?, ?)`,
		role, resource, action,
	)
	if err != nil {
		return fmt.Errorf("granting permission: %w", err)
	}
	return nil
}

// RoleHasPermission reports whether role has been granted (resource, action).
func (s *SQLiteStore) RoleHasPermission(ctx context.Context, role RoleName, resource, action string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM role_permissions
		WHERE role = ? AND resource = ? AND action = ?
	`, role, resource, action).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking permission: %w", err)
	}
	return count > 0, nil
}
