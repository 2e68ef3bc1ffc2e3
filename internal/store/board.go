// ABOUTME: Board container and task persistence for the SQLite store
// ABOUTME: Snapshot reads, container/task inserts, cascade delete and transactional reorder

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// taskColumnNames is the scan order shared by every query reading a full task row.
var taskColumnNames = []string{
	"uuid", "board_key", "container_uuid", "name", "description", "status",
	"importance", "due_date", "estimated_hours", "reminder_date",
	"labels_json", "dependencies_json", "custom_fields_json",
	"created_by", "assigned_to", "created_at", "last_updated",
	"last_updated_by", "archived",
}

var (
	taskColumns          = strings.Join(taskColumnNames, ", ")
	qualifiedTaskColumns = "t." + strings.Join(taskColumnNames, ", t.")
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Snapshot reads every container and task of a board inside one read
// transaction so both lists reflect the same committed state.
func (s *SQLiteStore) Snapshot(ctx context.Context, boardKey string) (*Board, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	board := &Board{
		BoardKey:   boardKey,
		Containers: []Container{},
		Tasks:      []Task{},
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT uuid, board_key, name, container_order
		FROM containers
		WHERE board_key = ?
		ORDER BY container_order
	`, boardKey)
	if err != nil {
		return nil, fmt.Errorf("querying containers: %w", err)
	}
	for rows.Next() {
		c := Container{State: ContainerCreated}
		if err := rows.Scan(&c.UUID, &c.BoardKey, &c.Name, &c.Order); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning container: %w", err)
		}
		board.Containers = append(board.Containers, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating containers: %w", err)
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx, `
		SELECT `+qualifiedTaskColumns+`
		FROM tasks t
		JOIN containers c ON c.uuid = t.container_uuid
		WHERE t.board_key = ?
		ORDER BY c.container_order, t.due_date, t.created_at, t.uuid
	`, boardKey)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		board.Tasks = append(board.Tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}

	return board, nil
}

// InsertContainer persists c with the next free order on its board. The order
// is computed inside the INSERT so concurrent inserts never collide.
func (s *SQLiteStore) InsertContainer(ctx context.Context, c *Container) (int, error) {
	query := `
		INSERT INTO containers (uuid, board_key, name, container_order, created_at)
		SELECT ?, ?, ?, COALESCE(MAX(container_order), 0) + 1, ?
		FROM containers
		WHERE board_key = ?
		RETURNING container_order
	`

	var order int
	err := s.db.QueryRowContext(ctx, query,
		c.UUID,
		c.BoardKey,
		c.Name,
		formatTime(time.Now()),
		c.BoardKey,
	).Scan(&order)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("inserting container: %w", err)
	}

	c.Order = order
	c.State = ContainerCreated
	s.logger.Debug("created container", "board_key", c.BoardKey, "uuid", c.UUID, "order", order)
	return order, nil
}

// BindBoard binds boardKey to projectScope unless it is already bound.
func (s *SQLiteStore) BindBoard(ctx context.Context, boardKey, projectScope string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO boards (board_key, project_scope, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (board_key) DO NOTHING`,
		boardKey, projectScope, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("binding board: %w", err)
	}

	bound, err := s.BoardProject(ctx, boardKey)
	if err != nil {
		return err
	}
	if bound != projectScope {
		return fmt.Errorf("board %s: %w", boardKey, ErrWrongProject)
	}
	return nil
}

// BoardProject returns the project scope boardKey is bound to.
func (s *SQLiteStore) BoardProject(ctx context.Context, boardKey string) (string, error) {
	var scope string
	err := s.db.QueryRowContext(ctx,
		`SELECT project_scope FROM boards WHERE board_key = ?`, boardKey,
	).Scan(&scope)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting board project: %w", err)
	}
	return scope, nil
}

// DeleteContainer removes a container and its tasks in one transaction,
// returning how many tasks went with it.
func (s *SQLiteStore) DeleteContainer(ctx context.Context, boardKey, containerUUID string) (_ int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning delete: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rolling back delete", "board_key", boardKey, "error", rbErr)
			}
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM containers WHERE board_key = ? AND uuid = ?`,
		boardKey, containerUUID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("checking container: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE board_key = ? AND container_uuid = ?`,
		boardKey, containerUUID,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting container tasks: %w", err)
	}
	tasks, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted tasks: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM containers WHERE board_key = ? AND uuid = ?`,
		boardKey, containerUUID,
	); err != nil {
		return 0, fmt.Errorf("deleting container: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted container", "board_key", boardKey, "uuid", containerUUID, "tasks", tasks)
	return int(tasks), nil
}

// ReorderContainers sets every listed container's order in one transaction.
// Orders are first parked on negative values so swaps never trip the unique
// (board_key, container_order) index mid-transaction. Any unknown container
// or collision rolls the whole batch back.
func (s *SQLiteStore) ReorderContainers(ctx context.Context, boardKey string, orders []ContainerOrder) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reorder: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rolling back reorder", "board_key", boardKey, "error", rbErr)
			}
		}
	}()

	const update = `UPDATE containers SET container_order = ? WHERE uuid = ? AND board_key = ?`

	for _, o := range orders {
		res, execErr := tx.ExecContext(ctx, update, -o.Order, o.ContainerUUID, boardKey)
		if execErr != nil {
			return fmt.Errorf("parking container %s: %w", o.ContainerUUID, execErr)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("container %s: %w", o.ContainerUUID, ErrNotFound)
		}
	}

	for _, o := range orders {
		if _, execErr := tx.ExecContext(ctx, update, o.Order, o.ContainerUUID, boardKey); execErr != nil {
			if isConstraintViolation(execErr) {
				return fmt.Errorf("order %d for container %s: %w", o.Order, o.ContainerUUID, ErrDuplicate)
			}
			return fmt.Errorf("ordering container %s: %w", o.ContainerUUID, execErr)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing reorder: %w", err)
	}

	s.logger.Debug("reordered containers", "board_key", boardKey, "count", len(orders))
	return nil
}

// InsertTask persists t if its container lives on the same board.
func (s *SQLiteStore) InsertTask(ctx context.Context, t *Task) error {
	labels, err := json.Marshal(nonNil(t.Labels))
	if err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}
	deps, err := json.Marshal(nonNil(t.Dependencies))
	if err != nil {
		return fmt.Errorf("encoding dependencies: %w", err)
	}
	var custom any
	if len(t.CustomFields) > 0 {
		raw, err := json.Marshal(t.CustomFields)
		if err != nil {
			return fmt.Errorf("encoding custom fields: %w", err)
		}
		custom = string(raw)
	}

	var estimated any
	if t.EstimatedHours != nil {
		estimated = *t.EstimatedHours
	}
	var reminder any
	if t.ReminderDate != nil {
		reminder = formatTime(*t.ReminderDate)
	}
	var assigned any
	if t.AssignedTo != nil {
		assigned = *t.AssignedTo
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

	query := `
		INSERT INTO tasks (
			uuid, board_key, container_uuid, name, description, status, importance,
			due_date, estimated_hours, reminder_date, labels_json, dependencies_json,
			custom_fields_json, created_by, assigned_to, created_at, last_updated,
			last_updated_by, archived
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM containers WHERE uuid = ? AND board_key = ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		t.UUID,
		t.BoardKey,
		t.ContainerUUID,
		t.Name,
		t.Description,
		t.Status,
		string(t.Importance),
		formatTime(t.DueDate),
		estimated,
		reminder,
		string(labels),
		string(deps),
		custom,
		t.CreatedBy,
		assigned,
		formatTime(t.CreatedAt),
		formatTime(t.LastUpdated),
		t.LastUpdatedBy,
		t.Archived,
		t.ContainerUUID,
		t.BoardKey,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("container %s: %w", t.ContainerUUID, ErrNotFound)
	}

	s.logger.Debug("created task", "board_key", t.BoardKey, "uuid", t.UUID, "container", t.ContainerUUID)
	return nil
}

// MoveTask updates only the task's container. The target container must be
// on the same board as the task.
func (s *SQLiteStore) MoveTask(ctx context.Context, boardKey, containerUUID, taskUUID, updatedBy string) (*Task, error) {
	query := `
		UPDATE tasks
		SET container_uuid = ?, last_updated = ?, last_updated_by = ?
		WHERE uuid = ? AND board_key = ?
		  AND EXISTS (SELECT 1 FROM containers WHERE uuid = ? AND board_key = ?)
		RETURNING ` + taskColumns

	row := s.db.QueryRowContext(ctx, query,
		containerUUID,
		formatTime(time.Now()),
		updatedBy,
		taskUUID,
		boardKey,
		containerUUID,
		boardKey,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("moving task: %w", err)
	}

	s.logger.Debug("moved task", "board_key", boardKey, "uuid", taskUUID, "container", containerUUID)
	return t, nil
}

// GetTaskDetail reads a task joined with creator and assignee display names.
func (s *SQLiteStore) GetTaskDetail(ctx context.Context, taskUUID string) (*TaskDetail, error) {
	query := `
		SELECT ` + qualifiedTaskColumns + `, COALESCE(u1.display_name, ''), u2.display_name
		FROM tasks t
		LEFT JOIN users u1 ON u1.id = t.created_by
		LEFT JOIN users u2 ON u2.id = t.assigned_to
		WHERE t.uuid = ?
	`

	var createdBy string
	var assignedTo sql.NullString
	t, err := scanTaskWith(s.db.QueryRowContext(ctx, query, taskUUID), &createdBy, &assignedTo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting task detail: %w", err)
	}

	detail := &TaskDetail{Task: *t, CreatedByName: createdBy}
	if assignedTo.Valid {
		detail.AssignedToName = &assignedTo.String
	}
	return detail, nil
}

func scanTask(row rowScanner) (*Task, error) {
	return scanTaskWith(row)
}

// scanTaskWith scans taskColumns followed by any extra destinations.
func scanTaskWith(row rowScanner, extra ...any) (*Task, error) {
	var t Task
	var importance, dueDate, createdAt, lastUpdated string
	var labels, deps string
	var estimated sql.NullFloat64
	var reminder, custom, assigned sql.NullString

	dest := []any{
		&t.UUID, &t.BoardKey, &t.ContainerUUID, &t.Name, &t.Description, &t.Status,
		&importance, &dueDate, &estimated, &reminder,
		&labels, &deps, &custom,
		&t.CreatedBy, &assigned, &createdAt, &lastUpdated,
		&t.LastUpdatedBy, &t.Archived,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}

	var err error
	t.Importance = Importance(importance)
	if t.DueDate, err = parseTime(dueDate); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	if estimated.Valid {
		h := estimated.Float64
		t.EstimatedHours = &h
	}
	if reminder.Valid {
		r, err := parseTime(reminder.String)
		if err != nil {
			return nil, err
		}
		t.ReminderDate = &r
	}
	if assigned.Valid {
		a := assigned.String
		t.AssignedTo = &a
	}
	if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
		return nil, fmt.Errorf("decoding labels: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return nil, fmt.Errorf("decoding dependencies: %w", err)
	}
	if custom.Valid {
		if err := json.Unmarshal([]byte(custom.String), &t.CustomFields); err != nil {
			return nil, fmt.Errorf("decoding custom fields: %w", err)
		}
	}

	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
