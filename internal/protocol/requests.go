// ABOUTME: Typed request payloads with boundary validation
// ABOUTME: Decode turns an Envelope into exactly one validated request variant

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/board-gateway/internal/store"
)

// ErrValidation is wrapped by every request validation failure.
var ErrValidation = errors.New("validation failed")

// ErrUnknownType is returned by Decode for request types outside the closed set.
var ErrUnknownType = errors.New("unknown request type")

// FieldError describes one invalid request field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Reason
}

// Unwrap lets errors.Is match ErrValidation.
func (e *FieldError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// dateLayouts are tried in order when parsing client-supplied dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate parses a client date. Dates without a zone are taken as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// Request is implemented by every request variant.
type Request interface {
	// Type returns the request's wire type tag.
	Type() string
	// Board returns the board key the request targets, or "" if it has none.
	Board() string
	// Validate checks required fields and normalizes defaults.
	Validate() error
}

// Auth carries the session and project scope of a gated request. An empty
// token falls back to the token the connection was opened with.
type Auth struct {
	SessionToken string `json:"session_token,omitempty"`
	ProjectScope string `json:"project_scope"`
}

// Session returns the request's own session token.
func (a Auth) Session() string { return a.SessionToken }

// Scope returns the project scope permissions are checked in.
func (a Auth) Scope() string { return a.ProjectScope }

// Authenticated is implemented by every request that carries Auth.
type Authenticated interface {
	Request
	Session() string
	Scope() string
}

func (a Auth) validate() error {
	if strings.TrimSpace(a.ProjectScope) == "" {
		return invalid("project_scope", "is required")
	}
	return nil
}

func requireBoard(boardKey string) error {
	if strings.TrimSpace(boardKey) == "" {
		return invalid("board_key", "is required")
	}
	return nil
}

func requireUUID(field, value string) error {
	if value == "" {
		return invalid(field, "is required")
	}
	if _, err := uuid.Parse(value); err != nil {
		return invalid(field, "must be a UUID")
	}
	return nil
}

// JoinRequest subscribes the connection to a board and asks for a snapshot.
type JoinRequest struct {
	BoardKey string `json:"board_key"`
}

func (r *JoinRequest) Type() string    { return TypeJoin }
func (r *JoinRequest) Board() string   { return r.BoardKey }
func (r *JoinRequest) Validate() error { return requireBoard(r.BoardKey) }

// GetBoardRequest asks for a fresh snapshot without joining.
type GetBoardRequest struct {
	BoardKey string `json:"board_key"`
}

func (r *GetBoardRequest) Type() string    { return TypeGetBoard }
func (r *GetBoardRequest) Board() string   { return r.BoardKey }
func (r *GetBoardRequest) Validate() error { return requireBoard(r.BoardKey) }

// LeaveRequest unsubscribes the connection from a board.
type LeaveRequest struct {
	BoardKey string `json:"board_key"`
}

func (r *LeaveRequest) Type() string    { return TypeLeave }
func (r *LeaveRequest) Board() string   { return r.BoardKey }
func (r *LeaveRequest) Validate() error { return requireBoard(r.BoardKey) }

// CreateContainerRequest adds a column to the end of a board.
type CreateContainerRequest struct {
	Auth
	BoardKey string `json:"board_key"`
	Name     string `json:"name"`
	UUID     string `json:"uuid,omitempty"` // client-generated; assigned by the gateway when empty
}

func (r *CreateContainerRequest) Type() string  { return TypeCreateContainer }
func (r *CreateContainerRequest) Board() string { return r.BoardKey }

func (r *CreateContainerRequest) Validate() error {
	if err := requireBoard(r.BoardKey); err != nil {
		return err
	}
	if err := r.Auth.validate(); err != nil {
		return err
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return invalid("name", "is required")
	}
	if r.UUID != "" {
		if err := requireUUID("uuid", r.UUID); err != nil {
			return err
		}
	}
	return nil
}

// ReorderContainersRequest sets the order of several columns at once.
type ReorderContainersRequest struct {
	Auth
	BoardKey string                 `json:"board_key"`
	NewOrder []store.ContainerOrder `json:"new_order"`
}

func (r *ReorderContainersRequest) Type() string  { return TypeReorderContainers }
func (r *ReorderContainersRequest) Board() string { return r.BoardKey }

func (r *ReorderContainersRequest) Validate() error {
	if err := requireBoard(r.BoardKey); err != nil {
		return err
	}
	if err := r.Auth.validate(); err != nil {
		return err
	}
	if len(r.NewOrder) == 0 {
		return invalid("new_order", "must not be empty")
	}

	seenUUID := make(map[string]bool, len(r.NewOrder))
	seenOrder := make(map[int]bool, len(r.NewOrder))
	for i, o := range r.NewOrder {
		field := fmt.Sprintf("new_order[%d]", i)
		if err := requireUUID(field+".container_uuid", o.ContainerUUID); err != nil {
			return err
		}
		if o.Order < 1 {
			return invalid(field+".order", "must be positive")
		}
		if seenUUID[o.ContainerUUID] {
			return invalid(field+".container_uuid", "is listed twice")
		}
		if seenOrder[o.Order] {
			return invalid(field+".order", "is listed twice")
		}
		seenUUID[o.ContainerUUID] = true
		seenOrder[o.Order] = true
	}
	return nil
}

// DeleteContainerRequest removes a column and every task in it.
type DeleteContainerRequest struct {
	Auth
	BoardKey      string `json:"board_key"`
	ContainerUUID string `json:"container_uuid"`
}

func (r *DeleteContainerRequest) Type() string  { return TypeDeleteContainer }
func (r *DeleteContainerRequest) Board() string { return r.BoardKey }

func (r *DeleteContainerRequest) Validate() error {
	if err := requireBoard(r.BoardKey); err != nil {
		return err
	}
	if err := r.Auth.validate(); err != nil {
		return err
	}
	return requireUUID("container_uuid", r.ContainerUUID)
}

// CreateTaskRequest adds a task to a column.
type CreateTaskRequest struct {
	Auth
	BoardKey       string         `json:"board_key"`
	ContainerUUID  string         `json:"container_uuid"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status,omitempty"`
	DueDate        string         `json:"due_date"`
	Importance     string         `json:"importance,omitempty"`
	EstimatedHours *float64       `json:"estimated_hours,omitempty"`
	Labels         []string       `json:"labels,omitempty"`
	ReminderDate   string         `json:"reminder_date,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	CustomFields   map[string]any `json:"custom_fields,omitempty"`
	AssignedTo     string         `json:"assigned_to,omitempty"`

	dueDate      time.Time
	reminderDate *time.Time
}

func (r *CreateTaskRequest) Type() string  { return TypeCreateTask }
func (r *CreateTaskRequest) Board() string { return r.BoardKey }

// Validate checks the request and fills in the status and importance
// defaults. Dates are parsed here so an unparseable date never reaches the store.
func (r *CreateTaskRequest) Validate() error {
	if err := requireBoard(r.BoardKey); err != nil {
		return err
	}
	if err := r.Auth.validate(); err != nil {
		return err
	}

	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return invalid("name", "is required")
	}
	if err := requireUUID("container_uuid", r.ContainerUUID); err != nil {
		return err
	}

	if strings.TrimSpace(r.DueDate) == "" {
		return invalid("due_date", "is required")
	}
	due, err := ParseDate(r.DueDate)
	if err != nil {
		return invalid("due_date", "must be a valid date")
	}
	r.dueDate = due

	if r.ReminderDate != "" {
		reminder, err := ParseDate(r.ReminderDate)
		if err != nil {
			return invalid("reminder_date", "must be a valid date")
		}
		r.reminderDate = &reminder
	}

	if r.EstimatedHours != nil && *r.EstimatedHours < 0 {
		return invalid("estimated_hours", "must not be negative")
	}

	if r.Importance == "" {
		r.Importance = string(store.ImportanceMedium)
	}
	if !store.Importance(r.Importance).Valid() {
		return invalid("importance", "must be Low, Medium or High")
	}

	if strings.TrimSpace(r.Status) == "" {
		r.Status = store.DefaultTaskStatus
	}
	return nil
}

// NewTask builds the task row for a validated request.
func (r *CreateTaskRequest) NewTask(taskUUID, createdBy string) *store.Task {
	t := &store.Task{
		UUID:           taskUUID,
		BoardKey:       r.BoardKey,
		ContainerUUID:  r.ContainerUUID,
		Name:           r.Name,
		Description:    r.Description,
		Status:         r.Status,
		Importance:     store.Importance(r.Importance),
		DueDate:        r.dueDate,
		EstimatedHours: r.EstimatedHours,
		ReminderDate:   r.reminderDate,
		Labels:         r.Labels,
		Dependencies:   r.Dependencies,
		CustomFields:   r.CustomFields,
		CreatedBy:      createdBy,
		LastUpdatedBy:  createdBy,
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	if r.AssignedTo != "" {
		assignee := r.AssignedTo
		t.AssignedTo = &assignee
	}
	return t
}

// ReorderTaskRequest moves a task to another column on the same board.
type ReorderTaskRequest struct {
	Auth
	BoardKey      string `json:"board_key"`
	ContainerUUID string `json:"container_uuid"`
	TaskUUID      string `json:"task_uuid"`
}

func (r *ReorderTaskRequest) Type() string  { return TypeReorderTask }
func (r *ReorderTaskRequest) Board() string { return r.BoardKey }

func (r *ReorderTaskRequest) Validate() error {
	if err := requireBoard(r.BoardKey); err != nil {
		return err
	}
	if err := r.Auth.validate(); err != nil {
		return err
	}
	if err := requireUUID("container_uuid", r.ContainerUUID); err != nil {
		return err
	}
	return requireUUID("task_uuid", r.TaskUUID)
}

// GetTaskDetailRequest reads one task with creator and assignee names.
type GetTaskDetailRequest struct {
	Auth
	TaskUUID string `json:"task_uuid"`
}

func (r *GetTaskDetailRequest) Type() string  { return TypeGetTaskDetail }
func (r *GetTaskDetailRequest) Board() string { return "" }

func (r *GetTaskDetailRequest) Validate() error {
	if err := r.Auth.validate(); err != nil {
		return err
	}
	return requireUUID("task_uuid", r.TaskUUID)
}

// newRequest returns an empty request for typ, or nil if typ is unknown.
func newRequest(typ string) Request {
	switch typ {
	case TypeJoin:
		return &JoinRequest{}
	case TypeGetBoard:
		return &GetBoardRequest{}
	case TypeLeave:
		return &LeaveRequest{}
	case TypeCreateContainer:
		return &CreateContainerRequest{}
	case TypeReorderContainers:
		return &ReorderContainersRequest{}
	case TypeDeleteContainer:
		return &DeleteContainerRequest{}
	case TypeCreateTask:
		return &CreateTaskRequest{}
	case TypeReorderTask:
		return &ReorderTaskRequest{}
	case TypeGetTaskDetail:
		return &GetTaskDetailRequest{}
	}
	return nil
}

// Decode parses and validates the envelope's payload. Unknown types return
// ErrUnknownType. A request that decodes but fails validation is still
// returned alongside the error so callers can route the failure by board.
func Decode(env Envelope) (Request, error) {
	req := newRequest(env.Type)
	if req == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, req); err != nil {
			return nil, fmt.Errorf("%w: malformed %s payload: %v", ErrValidation, env.Type, err)
		}
	}

	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}
