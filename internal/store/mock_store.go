// ABOUTME: Mock BoardStore and IdentityStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory BoardStore and IdentityStore for testing.
// Failure hooks let tests force store errors on specific operations.
type MockStore struct {
	mu          sync.RWMutex
	containers  map[string]*Container // keyed by container uuid
	tasks       map[string]*Task      // keyed by task uuid
	users       map[string]*User      // keyed by user id
	sessions    map[string]string     // keyed by token hash -> user id
	memberships map[string]*Membership
	grants      map[string]bool   // keyed by "role:resource:action"
	boards      map[string]string // board key -> project scope

	// FailReorder, when set, is returned by ReorderContainers before any change.
	FailReorder error
	// FailInsertTask, when set, is returned by InsertTask.
	FailInsertTask error
}

// NewMockStore creates a new MockStore seeded with the default role grants.
func NewMockStore() *MockStore {
	m := &MockStore{
		containers:  make(map[string]*Container),
		tasks:       make(map[string]*Task),
		users:       make(map[string]*User),
		sessions:    make(map[string]string),
		memberships: make(map[string]*Membership),
		grants:      make(map[string]bool),
		boards:      make(map[string]string),
	}
	for _, g := range defaultGrants {
		m.grants[grantKey(g.role, g.resource, g.action)] = true
	}
	return m
}

func grantKey(role RoleName, resource, action string) string {
	return string(role) + ":" + resource + ":" + action
}

func membershipKey(projectScope, userID string) string {
	return projectScope + "|" + userID
}

// Snapshot returns copies of the board's containers and tasks in the same
// order the SQLite store uses.
func (m *MockStore) Snapshot(ctx context.Context, boardKey string) (*Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	board := &Board{BoardKey: boardKey, Containers: []Container{}, Tasks: []Task{}}
	orderOf := make(map[string]int)
	for _, c := range m.containers {
		if c.BoardKey != boardKey {
			continue
		}
		board.Containers = append(board.Containers, *c)
		orderOf[c.UUID] = c.Order
	}
	sort.Slice(board.Containers, func(i, j int) bool {
		return board.Containers[i].Order < board.Containers[j].Order
	})

	for _, t := range m.tasks {
		if t.BoardKey != boardKey {
			continue
		}
		board.Tasks = append(board.Tasks, copyTask(t))
	}
	sort.Slice(board.Tasks, func(i, j int) bool {
		a, b := board.Tasks[i], board.Tasks[j]
		if orderOf[a.ContainerUUID] != orderOf[b.ContainerUUID] {
			return orderOf[a.ContainerUUID] < orderOf[b.ContainerUUID]
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.UUID < b.UUID
	})

	return board, nil
}

// BindBoard binds boardKey to projectScope unless it is already bound.
func (m *MockStore) BindBoard(ctx context.Context, boardKey, projectScope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bound, ok := m.boards[boardKey]
	if !ok {
		m.boards[boardKey] = projectScope
		return nil
	}
	if bound != projectScope {
		return fmt.Errorf("board %s: %w", boardKey, ErrWrongProject)
	}
	return nil
}

// BoardProject returns the project scope boardKey is bound to.
func (m *MockStore) BoardProject(ctx context.Context, boardKey string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scope, ok := m.boards[boardKey]
	if !ok {
		return "", ErrNotFound
	}
	return scope, nil
}

// InsertContainer stores c with order max+1 on its board.
func (m *MockStore) InsertContainer(ctx context.Context, c *Container) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.containers[c.UUID]; exists {
		return 0, ErrDuplicate
	}

	maxOrder := 0
	for _, existing := range m.containers {
		if existing.BoardKey == c.BoardKey && existing.Order > maxOrder {
			maxOrder = existing.Order
		}
	}

	cp := *c
	cp.Order = maxOrder + 1
	cp.State = ContainerCreated
	m.containers[cp.UUID] = &cp

	c.Order = cp.Order
	c.State = ContainerCreated
	return cp.Order, nil
}

// DeleteContainer removes a container and its tasks.
func (m *MockStore) DeleteContainer(ctx context.Context, boardKey, containerUUID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[containerUUID]
	if !ok || c.BoardKey != boardKey {
		return 0, ErrNotFound
	}
	delete(m.containers, containerUUID)

	removed := 0
	for id, t := range m.tasks {
		if t.ContainerUUID == containerUUID {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed, nil
}

// ReorderContainers validates the whole batch before applying any of it.
func (m *MockStore) ReorderContainers(ctx context.Context, boardKey string, orders []ContainerOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailReorder != nil {
		return m.FailReorder
	}

	next := make(map[string]int)
	for _, c := range m.containers {
		if c.BoardKey == boardKey {
			next[c.UUID] = c.Order
		}
	}
	for _, o := range orders {
		if _, ok := next[o.ContainerUUID]; !ok {
			return fmt.Errorf("container %s: %w", o.ContainerUUID, ErrNotFound)
		}
		next[o.ContainerUUID] = o.Order
	}

	seen := make(map[int]bool, len(next))
	for id, order := range next {
		if seen[order] {
			return fmt.Errorf("order %d for container %s: %w", order, id, ErrDuplicate)
		}
		seen[order] = true
	}

	for id, order := range next {
		m.containers[id].Order = order
	}
	return nil
}

// InsertTask stores a task if its container is on the same board.
func (m *MockStore) InsertTask(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInsertTask != nil {
		return m.FailInsertTask
	}
	if _, exists := m.tasks[t.UUID]; exists {
		return ErrDuplicate
	}
	c, ok := m.containers[t.ContainerUUID]
	if !ok || c.BoardKey != t.BoardKey {
		return fmt.Errorf("container %s: %w", t.ContainerUUID, ErrNotFound)
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.LastUpdated.IsZero() {
		t.LastUpdated = now
	}
	if t.LastUpdatedBy == "" {
		t.LastUpdatedBy = t.CreatedBy
	}

	cp := copyTask(t)
	m.tasks[cp.UUID] = &cp
	return nil
}

// MoveTask reassigns a task's container.
func (m *MockStore) MoveTask(ctx context.Context, boardKey, containerUUID, taskUUID, updatedBy string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskUUID]
	if !ok || t.BoardKey != boardKey {
		return nil, ErrNotFound
	}
	c, ok := m.containers[containerUUID]
	if !ok || c.BoardKey != boardKey {
		return nil, ErrNotFound
	}

	t.ContainerUUID = containerUUID
	t.LastUpdated = time.Now().UTC()
	t.LastUpdatedBy = updatedBy

	cp := copyTask(t)
	return &cp, nil
}

// GetTaskDetail returns a task with creator/assignee display names.
func (m *MockStore) GetTaskDetail(ctx context.Context, taskUUID string) (*TaskDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskUUID]
	if !ok {
		return nil, ErrNotFound
	}

	detail := &TaskDetail{Task: copyTask(t)}
	if u, ok := m.users[t.CreatedBy]; ok {
		detail.CreatedByName = u.DisplayName
	}
	if t.AssignedTo != nil {
		if u, ok := m.users[*t.AssignedTo]; ok {
			name := u.DisplayName
			detail.AssignedToName = &name
		}
	}
	return detail, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// CreateUser stores a user.
func (m *MockStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[u.ID]; exists {
		return ErrDuplicate
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = &cp
	return nil
}

// GetUser retrieves a user by id.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// CountUsers returns how many users exist.
func (m *MockStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// CreateSession maps a token to a user. Expiry is ignored by the mock.
func (m *MockStore) CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := HashSessionToken(token)
	if _, exists := m.sessions[hash]; exists {
		return ErrDuplicate
	}
	m.sessions[hash] = userID
	return nil
}

// GetSessionUser resolves a token to its user id.
func (m *MockStore) GetSessionUser(ctx context.Context, token string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userID, ok := m.sessions[HashSessionToken(token)]
	if !ok {
		return "", ErrNotFound
	}
	return userID, nil
}

// SetMembership creates or replaces a membership.
func (m *MockStore) SetMembership(ctx context.Context, mem *Membership) error {
	if !mem.Role.Valid() {
		return fmt.Errorf("invalid role %q", mem.Role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *mem
	m.memberships[membershipKey(mem.ProjectScope, mem.UserID)] = &cp
	return nil
}

// GetMemberRole returns the active role of a user in a project.
func (m *MockStore) GetMemberRole(ctx context.Context, userID, projectScope string) (RoleName, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.memberships[membershipKey(projectScope, userID)]
	if !ok || !mem.Active {
		return "", ErrNotFound
	}
	return mem.Role, nil
}

// GrantPermission adds a grant.
func (m *MockStore) GrantPermission(ctx context.Context, role RoleName, resource, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grants[grantKey(role, resource, action)] = true
	return nil
}

// RevokePermission removes a grant. Only the mock supports this; tests use it
// to build denial scenarios.
func (m *MockStore) RevokePermission(role RoleName, resource, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.grants, grantKey(role, resource, action))
}

// RoleHasPermission reports whether a grant exists.
func (m *MockStore) RoleHasPermission(ctx context.Context, role RoleName, resource, action string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.grants[grantKey(role, resource, action)], nil
}

// copyTask deep-copies the slices and maps of a task.
func copyTask(t *Task) Task {
	cp := *t
	if t.Labels != nil {
		cp.Labels = append([]string(nil), t.Labels...)
	}
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.CustomFields != nil {
		cp.CustomFields = make(map[string]any, len(t.CustomFields))
		for k, v := range t.CustomFields {
			cp.CustomFields[k] = v
		}
	}
	return cp
}

// Compile-time interface checks
var (
	_ BoardStore    = (*MockStore)(nil)
	_ IdentityStore = (*MockStore)(nil)
	_ BoardStore    = (*SQLiteStore)(nil)
	_ IdentityStore = (*SQLiteStore)(nil)
)
