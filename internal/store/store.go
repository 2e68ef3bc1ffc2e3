// ABOUTME: Store interfaces and data types for board-gateway persistence
// ABOUTME: Defines Container, Task, Board and the BoardStore/IdentityStore contracts

package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting an entity whose key already exists
var ErrDuplicate = errors.New("already exists")

// ErrWrongProject is returned when a board key is already bound to a
// different project scope.
var ErrWrongProject = errors.New("board belongs to another project")

// ContainerState tracks where a container is in its client-visible lifecycle.
type ContainerState string

const (
	ContainerCreating ContainerState = "creating"
	ContainerCreated  ContainerState = "created"
	ContainerEditing  ContainerState = "editing"
)

// CanTransition reports whether a container may move from s to next.
// Nothing ever goes back to creating.
func (s ContainerState) CanTransition(next ContainerState) bool {
	switch s {
	case ContainerCreating:
		return next == ContainerCreated
	case ContainerCreated:
		return next == ContainerEditing || next == ContainerCreated
	case ContainerEditing:
		return next == ContainerCreated || next == ContainerEditing
	default:
		return false
	}
}

// Importance is the priority bucket of a task.
type Importance string

const (
	ImportanceLow    Importance = "Low"
	ImportanceMedium Importance = "Medium"
	ImportanceHigh   Importance = "High"
)

// Valid reports whether i is one of the known importance levels.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return true
	}
	return false
}

// DefaultTaskStatus is used when a task is created without a status.
const DefaultTaskStatus = "To Do"

// Container is an ordered column on a board.
type Container struct {
	UUID     string         `json:"uuid"`
	BoardKey string         `json:"board_key"`
	Name     string         `json:"name"`
	Order    int            `json:"order"`
	State    ContainerState `json:"state"`
}

// Task is a card that lives inside exactly one container.
type Task struct {
	UUID           string         `json:"uuid"`
	BoardKey       string         `json:"board_key"`
	ContainerUUID  string         `json:"container_uuid"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Status         string         `json:"status"`
	Importance     Importance     `json:"importance"`
	DueDate        time.Time      `json:"due_date"`
	EstimatedHours *float64       `json:"estimated_hours,omitempty"`
	ReminderDate   *time.Time     `json:"reminder_date,omitempty"`
	Labels         []string       `json:"labels"`
	Dependencies   []string       `json:"dependencies"`
	CustomFields   map[string]any `json:"custom_fields,omitempty"`
	CreatedBy      string         `json:"created_by"`
	AssignedTo     *string        `json:"assigned_to,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastUpdated    time.Time      `json:"last_updated"`
	LastUpdatedBy  string         `json:"last_updated_by"`
	Archived       bool           `json:"archived"`
}

// TaskDetail is a task joined with the display names of its creator and assignee.
type TaskDetail struct {
	Task           Task    `json:"task"`
	CreatedByName  string  `json:"created_by_name"`
	AssignedToName *string `json:"assigned_to_name,omitempty"`
}

// Board is a full snapshot of a board's containers and tasks.
// Containers are ordered by Order; tasks by container order, due date,
// creation time and uuid.
type Board struct {
	BoardKey   string      `json:"board_key"`
	Containers []Container `json:"containers"`
	Tasks      []Task      `json:"tasks"`
}

// ContainerOrder is one entry of a bulk container reorder.
type ContainerOrder struct {
	ContainerUUID string `json:"container_uuid"`
	Order         int    `json:"order"`
}

// User is a durable identity that sessions resolve to.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// RoleName is a project-level role.
type RoleName string

const (
	RoleOwner  RoleName = "owner"
	RoleAdmin  RoleName = "admin"
	RoleMember RoleName = "member"
	RoleGuest  RoleName = "guest"
)

// ValidRoleNames lists all valid role names
var ValidRoleNames = []RoleName{
	RoleOwner,
	RoleAdmin,
	RoleMember,
	RoleGuest,
}

// Valid reports whether r is one of ValidRoleNames.
func (r RoleName) Valid() bool {
	return slices.Contains(ValidRoleNames, r)
}

// Membership binds a user to a project scope with a role.
type Membership struct {
	ProjectScope string
	UserID       string
	Role         RoleName
	Active       bool
	CreatedAt    time.Time
}

// BoardStore is the typed adapter over board persistence. Every operation is
// scoped by board key; only ReorderContainers runs inside a transaction.
type BoardStore interface {
	// BindBoard records that boardKey belongs to projectScope. The first call
	// for a board key binds it; later calls return ErrWrongProject when the
	// scope differs.
	BindBoard(ctx context.Context, boardKey, projectScope string) error

	// BoardProject returns the project a board is bound to, or ErrNotFound.
	BoardProject(ctx context.Context, boardKey string) (string, error)

	// Snapshot reads every container and task of a board.
	Snapshot(ctx context.Context, boardKey string) (*Board, error)

	// InsertContainer persists c with order max(order)+1 and returns that order.
	// Returns ErrDuplicate if the uuid already exists.
	InsertContainer(ctx context.Context, c *Container) (int, error)

	// DeleteContainer removes the container and every task in it, returning the
	// number of tasks removed. Returns ErrNotFound if no such container.
	DeleteContainer(ctx context.Context, boardKey, containerUUID string) (int, error)

	// ReorderContainers applies every order update or none of them.
	ReorderContainers(ctx context.Context, boardKey string, orders []ContainerOrder) error

	// InsertTask persists a task. Returns ErrNotFound if the container is not
	// on the task's board.
	InsertTask(ctx context.Context, t *Task) error

	// MoveTask reassigns a task to another container on the same board and
	// returns the updated row. Returns ErrNotFound when nothing was updated.
	MoveTask(ctx context.Context, boardKey, containerUUID, taskUUID, updatedBy string) (*Task, error)

	// GetTaskDetail reads one task with joined creator/assignee names.
	GetTaskDetail(ctx context.Context, taskUUID string) (*TaskDetail, error)

	Close() error
}

// IdentityStore backs the permission oracle: sessions, users, memberships
// and role grants.
type IdentityStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	CountUsers(ctx context.Context) (int, error)

	// CreateSession stores the hash of token for userID.
	CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) error
	// GetSessionUser resolves an opaque session token to its user id.
	GetSessionUser(ctx context.Context, token string) (string, error)

	SetMembership(ctx context.Context, m *Membership) error
	// GetMemberRole returns the active role of userID in projectScope.
	GetMemberRole(ctx context.Context, userID, projectScope string) (RoleName, error)

	GrantPermission(ctx context.Context, role RoleName, resource, action string) error
	RoleHasPermission(ctx context.Context, role RoleName, resource, action string) (bool, error)
}
