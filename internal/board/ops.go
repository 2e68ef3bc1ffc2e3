// ABOUTME: Per-request handlers of the board coordinator
// ABOUTME: Each handler gates, applies through the store and routes the outcome

package board

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/2389/board-gateway/internal/auth"
	"github.com/2389/board-gateway/internal/protocol"
	"github.com/2389/board-gateway/internal/store"
)

// join adds the member to the board's room and replies with a snapshot read
// while multicasts are held back.
func (c *Coordinator) join(ctx context.Context, cl *call, req *protocol.JoinRequest) {
	var (
		snap    *protocol.BoardSnapshot
		readErr error
	)
	err := c.rooms.Join(ctx, req.BoardKey, cl.member, func(seq uint64) {
		snap, readErr = c.snapshot(ctx, req.BoardKey, seq)
	})
	c.replySnapshot(cl, req.BoardKey, snap, errors.Join(err, readErr))
}

// getBoard replies with a fresh snapshot without touching membership.
func (c *Coordinator) getBoard(ctx context.Context, cl *call, req *protocol.GetBoardRequest) {
	var (
		snap    *protocol.BoardSnapshot
		readErr error
	)
	err := c.rooms.WithCurrent(ctx, req.BoardKey, func(seq uint64) {
		snap, readErr = c.snapshot(ctx, req.BoardKey, seq)
	})
	c.replySnapshot(cl, req.BoardKey, snap, errors.Join(err, readErr))
}

func (c *Coordinator) snapshot(ctx context.Context, boardKey string, seq uint64) (*protocol.BoardSnapshot, error) {
	b, err := c.store.Snapshot(ctx, boardKey)
	if err != nil {
		return nil, err
	}
	return &protocol.BoardSnapshot{
		BoardKey:   boardKey,
		Seq:        seq,
		Containers: b.Containers,
		Tasks:      b.Tasks,
	}, nil
}

func (c *Coordinator) replySnapshot(cl *call, boardKey string, snap *protocol.BoardSnapshot, err error) {
	if err != nil || snap == nil {
		c.logger.Error("reading board snapshot", "board_key", boardKey, "error", err)
		c.reply(cl, boardKey, "Error fetching board", nil)
		return
	}
	c.replyOK(cl, boardKey, snap)
}

func (c *Coordinator) createContainer(ctx context.Context, cl *call, req *protocol.CreateContainerRequest) {
	if _, err := c.authorize(ctx, cl, req.BoardKey, req.ProjectScope, auth.ActionCreate); err != nil {
		c.reply(cl, req.BoardKey, authMessage(err), nil)
		return
	}

	id := req.UUID
	if id == "" {
		id = uuid.NewString()
	}
	ct := &store.Container{
		UUID:     id,
		BoardKey: req.BoardKey,
		Name:     req.Name,
		State:    store.ContainerCreated,
	}
	order, err := c.store.InsertContainer(ctx, ct)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		c.reply(cl, req.BoardKey, "container already exists", &protocol.Failure{ContainerUUID: id})
		return
	case err != nil:
		c.logger.Error("inserting container", "board_key", req.BoardKey, "container_uuid", id, "error", err)
		c.forget(ctx, cl)
		c.reply(cl, req.BoardKey, "Error creating task container", &protocol.Failure{ContainerUUID: id})
		return
	}

	c.logger.Info("container created", "board_key", req.BoardKey, "container_uuid", id, "order", order)
	c.broadcast(ctx, cl, req.BoardKey, protocol.ContainerCreated{
		ContainerUUID: id,
		Name:          req.Name,
		Order:         order,
	})
}

// reorderContainers applies a bulk reorder. Every outcome goes to the whole
// room because every client tracks the shared column order optimistically.
func (c *Coordinator) reorderContainers(ctx context.Context, cl *call, req *protocol.ReorderContainersRequest) {
	failure := &protocol.Failure{NewOrder: req.NewOrder}

	if _, err := c.authorize(ctx, cl, req.BoardKey, req.ProjectScope, auth.ActionManage); err != nil {
		c.broadcastError(ctx, cl, req.BoardKey, authMessage(err), failure)
		return
	}

	err := c.store.ReorderContainers(ctx, req.BoardKey, req.NewOrder)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.broadcastError(ctx, cl, req.BoardKey, "container not found", failure)
		return
	case errors.Is(err, store.ErrDuplicate):
		c.broadcastError(ctx, cl, req.BoardKey, "container order conflict", failure)
		return
	case err != nil:
		c.logger.Error("reordering containers", "board_key", req.BoardKey, "error", err)
		c.forget(ctx, cl)
		c.broadcastError(ctx, cl, req.BoardKey, "Error reordering task containers", failure)
		return
	}

	c.broadcast(ctx, cl, req.BoardKey, protocol.ContainersReordered{OK: true, NewOrder: req.NewOrder})
}

func (c *Coordinator) deleteContainer(ctx context.Context, cl *call, req *protocol.DeleteContainerRequest) {
	failure := &protocol.Failure{ContainerUUID: req.ContainerUUID}

	if _, err := c.authorize(ctx, cl, req.BoardKey, req.ProjectScope, auth.ActionDelete); err != nil {
		c.reply(cl, req.BoardKey, authMessage(err), failure)
		return
	}

	n, err := c.store.DeleteContainer(ctx, req.BoardKey, req.ContainerUUID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.reply(cl, req.BoardKey, "container not found", failure)
		return
	case err != nil:
		c.logger.Error("deleting container", "board_key", req.BoardKey, "container_uuid", req.ContainerUUID, "error", err)
		c.forget(ctx, cl)
		c.reply(cl, req.BoardKey, "Error deleting task container", failure)
		return
	}

	c.logger.Info("container deleted", "board_key", req.BoardKey, "container_uuid", req.ContainerUUID, "tasks", n)
	c.broadcast(ctx, cl, req.BoardKey, protocol.ContainerDeleted{
		ContainerUUID: req.ContainerUUID,
		DeletedTasks:  n,
	})
}

func (c *Coordinator) createTask(ctx context.Context, cl *call, req *protocol.CreateTaskRequest) {
	failure := &protocol.Failure{ContainerUUID: req.ContainerUUID}

	userID, err := c.authorize(ctx, cl, req.BoardKey, req.ProjectScope, auth.ActionCreate)
	if err != nil {
		c.reply(cl, req.BoardKey, authMessage(err), failure)
		return
	}

	t := req.NewTask(uuid.NewString(), userID)
	err = c.store.InsertTask(ctx, t)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.reply(cl, req.BoardKey, "container not found", failure)
		return
	case err != nil:
		c.logger.Error("inserting task", "board_key", req.BoardKey, "container_uuid", req.ContainerUUID, "error", err)
		c.forget(ctx, cl)
		c.reply(cl, req.BoardKey, "Error creating task", failure)
		return
	}

	c.broadcast(ctx, cl, req.BoardKey, protocol.TaskCreated{
		ContainerUUID: t.ContainerUUID,
		TaskUUID:      t.UUID,
		Name:          t.Name,
		Importance:    t.Importance,
		DueDate:       t.DueDate,
		Task:          *t,
	})
}

// reorderTask moves a task between columns. Failures go to the room so every
// client that saw the optimistic move can put the card back.
func (c *Coordinator) reorderTask(ctx context.Context, cl *call, req *protocol.ReorderTaskRequest) {
	failure := &protocol.Failure{ContainerUUID: req.ContainerUUID, TaskUUID: req.TaskUUID}

	userID, err := c.authorize(ctx, cl, req.BoardKey, req.ProjectScope, auth.ActionManage)
	if err != nil {
		c.broadcastError(ctx, cl, req.BoardKey, authMessage(err), failure)
		return
	}

	t, err := c.store.MoveTask(ctx, req.BoardKey, req.ContainerUUID, req.TaskUUID, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.broadcastError(ctx, cl, req.BoardKey, "task not found", failure)
		return
	case err != nil:
		c.logger.Error("moving task", "board_key", req.BoardKey, "task_uuid", req.TaskUUID, "error", err)
		c.forget(ctx, cl)
		c.broadcastError(ctx, cl, req.BoardKey, "Error reordering task", failure)
		return
	}

	c.broadcast(ctx, cl, req.BoardKey, protocol.TaskReordered{
		ContainerUUID: t.ContainerUUID,
		TaskUUID:      t.UUID,
		Task:          *t,
	})
}

func (c *Coordinator) getTaskDetail(ctx context.Context, cl *call, req *protocol.GetTaskDetailRequest) {
	failure := &protocol.Failure{TaskUUID: req.TaskUUID}

	if _, err := c.gate.Authorize(ctx, cl.token, req.ProjectScope, auth.ResourceTask, auth.ActionRead); err != nil {
		c.reply(cl, "", authMessage(err), failure)
		return
	}

	d, err := c.store.GetTaskDetail(ctx, req.TaskUUID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.reply(cl, "", "task not found", failure)
		return
	case err != nil:
		c.logger.Error("reading task detail", "task_uuid", req.TaskUUID, "error", err)
		c.reply(cl, "", "Error fetching task", failure)
		return
	}

	// Tasks on another project's board are reported as missing
	ok, err := c.inProject(ctx, d.Task.BoardKey, req.ProjectScope)
	if err != nil {
		c.logger.Error("checking task board", "task_uuid", req.TaskUUID, "error", err)
		c.reply(cl, "", "Error fetching task", failure)
		return
	}
	if !ok {
		c.reply(cl, "", "task not found", failure)
		return
	}

	c.replyOK(cl, d.Task.BoardKey, protocol.TaskDetail{Task: *d})
}
