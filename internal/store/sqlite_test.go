// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema creation, identity tables, sessions and role grants

package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.CreateUser(t.Context(), &User{ID: "u1", DisplayName: "Ada"}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	u, err := second.GetUser(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.DisplayName)

	// Seeding grants again must not fail on the existing rows
	ok, err := second.RoleHasPermission(t.Context(), RoleMember, "task", "manage")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := t.Context()
	_, err = store.InsertContainer(ctx, &Container{UUID: "c1", BoardKey: "b", Name: "Todo"})
	require.NoError(t, err)

	board, err := store.Snapshot(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, board.Containers, 1)
}

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := t.Context()

	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.CreateUser(ctx, &User{ID: "u1", DisplayName: "Ada"}))
	n, err = store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, store.CreateUser(ctx, &User{ID: "u1", DisplayName: "Other"}), ErrDuplicate)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.DisplayName)
	assert.False(t, u.CreatedAt.IsZero())

	_, err = store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessions(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := t.Context()

	require.NoError(t, store.CreateUser(ctx, &User{ID: "u1", DisplayName: "Ada"}))

	t.Run("resolves token", func(t *testing.T) {
		require.NoError(t, store.CreateSession(ctx, "tok-1", "u1", time.Time{}))

		userID, err := store.GetSessionUser(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", userID)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := store.GetSessionUser(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired token", func(t *testing.T) {
		require.NoError(t, store.CreateSession(ctx, "tok-old", "u1", time.Now().Add(-time.Minute)))

		_, err := store.GetSessionUser(ctx, "tok-old")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("future expiry", func(t *testing.T) {
		require.NoError(t, store.CreateSession(ctx, "tok-new", "u1", time.Now().Add(time.Hour)))

		userID, err := store.GetSessionUser(ctx, "tok-new")
		require.NoError(t, err)
		assert.Equal(t, "u1", userID)
	})

	t.Run("raw token is not stored", func(t *testing.T) {
		var count int
		err := store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE token_hash = ?`, "tok-1").Scan(&count)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestMemberships(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := t.Context()

	require.NoError(t, store.CreateUser(ctx, &User{ID: "u1", DisplayName: "Ada"}))

	_, err := store.GetMemberRole(ctx, "u1", "proj")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetMembership(ctx, &Membership{ProjectScope: "proj", UserID: "u1", Role: RoleMember, Active: true}))
	role, err := store.GetMemberRole(ctx, "u1", "proj")
	require.NoError(t, err)
	assert.Equal(t, RoleMember, role)

	// Upsert replaces the role
	require.NoError(t, store.SetMembership(ctx, &Membership{ProjectScope: "proj", UserID: "u1", Role: RoleGuest, Active: true}))
	role, err = store.GetMemberRole(ctx, "u1", "proj")
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, role)

	// Inactive memberships are invisible
	require.NoError(t, store.SetMembership(ctx, &Membership{ProjectScope: "proj", UserID: "u1", Role: RoleGuest, Active: false}))
	_, err = store.GetMemberRole(ctx, "u1", "proj")
	assert.ErrorIs(t, err, ErrNotFound)

	// Unknown roles are rejected before they reach the schema
	err = store.SetMembership(ctx, &Membership{ProjectScope: "proj", UserID: "u1", Role: "superuser", Active: true})
	assert.ErrorContains(t, err, "invalid role")
}

func TestSetMembership_RejectsUnknownRole(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testBackend) {
		require.NoError(t, s.CreateUser(t.Context(), &User{ID: "u1", DisplayName: "Ada"}))

		err := s.SetMembership(t.Context(), &Membership{ProjectScope: "proj", UserID: "u1", Role: "root", Active: true})
		assert.ErrorContains(t, err, "invalid role")
		_, err = s.GetMemberRole(t.Context(), "u1", "proj")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRoleNameValid(t *testing.T) {
	for _, r := range ValidRoleNames {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, RoleName("").Valid())
	assert.False(t, RoleName("Owner").Valid())
}

func TestRolePermissions(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := t.Context()

	tests := []struct {
		role     RoleName
		action   string
		expected bool
	}{
		{RoleAdmin, "delete", true},
		{RoleMember, "manage", true},
		{RoleMember, "delete", false},
		{RoleGuest, "read", true},
		{RoleGuest, "create", false},
	}
	for _, tc := range tests {
		t.Run(string(tc.role)+"/"+tc.action, func(t *testing.T) {
			ok, err := store.RoleHasPermission(ctx, tc.role, "task", tc.action)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ok)
		})
	}

	require.NoError(t, store.GrantPermission(ctx, RoleMember, "task", "delete"))
	require.NoError(t, store.GrantPermission(ctx, RoleMember, "task", "delete"))
	ok, err := store.RoleHasPermission(ctx, RoleMember, "task", "delete")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashSessionToken(t *testing.T) {
	a := HashSessionToken("secret")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashSessionToken("secret"))
	assert.NotEqual(t, a, HashSessionToken("Secret"))
}

func TestIsConstraintViolation(t *testing.T) {
	assert.False(t, isConstraintViolation(nil))
	assert.False(t, isConstraintViolation(errors.New("disk I/O error")))
	assert.True(t, isConstraintViolation(errors.New("UNIQUE constraint failed: containers.uuid")))
}

func TestContainerStateTransitions(t *testing.T) {
	assert.True(t, ContainerCreating.CanTransition(ContainerCreated))
	assert.True(t, ContainerCreated.CanTransition(ContainerEditing))
	assert.True(t, ContainerEditing.CanTransition(ContainerCreated))
	assert.False(t, ContainerCreated.CanTransition(ContainerCreating))
	assert.False(t, ContainerEditing.CanTransition(ContainerCreating))
	assert.False(t, ContainerCreating.CanTransition(ContainerEditing))
}

// newTestStore creates a SQLite store in a temp directory
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
