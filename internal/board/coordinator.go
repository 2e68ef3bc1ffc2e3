// ABOUTME: Board coordinator, the authoritative state machine for board mutations
// ABOUTME: Decodes requests, checks permissions, applies them via the store and routes outcomes

package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/2389/board-gateway/internal/auth"
	"github.com/2389/board-gateway/internal/dedupe"
	"github.com/2389/board-gateway/internal/protocol"
	"github.com/2389/board-gateway/internal/room"
	"github.com/2389/board-gateway/internal/store"
)

// Authorizer resolves a session and checks one permission.
type Authorizer interface {
	Authorize(ctx context.Context, token, projectScope, resource, action string) (userID string, err error)
}

// Rooms is what the coordinator needs from the room registry.
type Rooms interface {
	Join(ctx context.Context, boardKey string, m room.Member, onJoin func(seq uint64)) error
	WithCurrent(ctx context.Context, boardKey string, fn func(seq uint64)) error
	Leave(boardKey, memberID string)
	Multicast(ctx context.Context, boardKey string, msg protocol.Message) (protocol.Message, error)
	Reply(m room.Member, msg protocol.Message)
}

// Coordinator applies client requests to a board. It never returns errors to
// the transport: every outcome is a message, either replied to the requester
// or multicast to the board's room.
type Coordinator struct {
	store  store.BoardStore
	gate   Authorizer
	rooms  Rooms
	dedupe dedupe.Deduper
	logger *slog.Logger
}

// New creates a Coordinator. dd may be nil to disable request id dedupe.
func New(st store.BoardStore, gate Authorizer, rooms Rooms, dd dedupe.Deduper, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  st,
		gate:   gate,
		rooms:  rooms,
		dedupe: dd,
		logger: logger.With("component", "coordinator"),
	}
}

// mutating lists the request types whose ids are deduplicated.
var mutating = map[string]bool{
	protocol.TypeCreateContainer:   true,
	protocol.TypeReorderContainers: true,
	protocol.TypeDeleteContainer:   true,
	protocol.TypeCreateTask:        true,
	protocol.TypeReorderTask:       true,
}

// call carries the per-request context through a handler.
type call struct {
	member    room.Member
	requestID string
	token     string
	respType  string
}

// Dispatch handles one request from member. It recovers from panics so a
// failing request never takes down the connection.
func (c *Coordinator) Dispatch(ctx context.Context, member room.Member, env protocol.Envelope) {
	cl := &call{
		member:    member,
		requestID: env.ID,
		respType:  protocol.ResponseType[env.Type],
	}
	if cl.respType == "" {
		cl.respType = protocol.TypeError
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic handling request",
				"type", env.Type,
				"request_id", env.ID,
				"member", member.ID(),
				"panic", r,
				"stack", string(debug.Stack()))
			c.forget(ctx, cl)
			c.reply(cl, "", "Internal error", nil)
		}
	}()

	req, err := protocol.Decode(env)
	if errors.Is(err, protocol.ErrUnknownType) {
		c.logger.Debug("unknown request type", "type", env.Type, "member", member.ID())
		c.reply(cl, "", fmt.Sprintf("unknown request type %q", env.Type), nil)
		return
	}
	if err != nil {
		// Validation failures never reach the store and are never broadcast
		boardKey := ""
		if req != nil {
			boardKey = req.Board()
		}
		c.reply(cl, boardKey, err.Error(), nil)
		return
	}

	if env.ID != "" && c.dedupe != nil && mutating[env.Type] {
		dup, err := c.dedupe.CheckAndMark(ctx, env.ID)
		if err != nil {
			c.logger.Warn("dedupe check failed, processing request", "request_id", env.ID, "error", err)
		} else if dup {
			c.logger.Debug("ignoring duplicate request", "type", env.Type, "request_id", env.ID)
			return
		}
	}

	if a, ok := req.(protocol.Authenticated); ok {
		cl.token = auth.FromContext(ctx).Token(a.Session())
	}

	switch r := req.(type) {
	case *protocol.JoinRequest:
		c.join(ctx, cl, r)
	case *protocol.GetBoardRequest:
		c.getBoard(ctx, cl, r)
	case *protocol.LeaveRequest:
		c.rooms.Leave(r.BoardKey, member.ID())
	case *protocol.CreateContainerRequest:
		c.createContainer(ctx, cl, r)
	case *protocol.ReorderContainersRequest:
		c.reorderContainers(ctx, cl, r)
	case *protocol.DeleteContainerRequest:
		c.deleteContainer(ctx, cl, r)
	case *protocol.CreateTaskRequest:
		c.createTask(ctx, cl, r)
	case *protocol.ReorderTaskRequest:
		c.reorderTask(ctx, cl, r)
	case *protocol.GetTaskDetailRequest:
		c.getTaskDetail(ctx, cl, r)
	}
}

// reply sends a requester-only error.
func (c *Coordinator) reply(cl *call, boardKey, message string, failure *protocol.Failure) {
	msg := protocol.ErrorMessage(cl.respType, message, failureOrNil(failure))
	msg.BoardKey = boardKey
	msg.RequestID = cl.requestID
	msg.Origin = cl.member.ID()
	c.rooms.Reply(cl.member, msg)
}

// replyOK sends a requester-only success.
func (c *Coordinator) replyOK(cl *call, boardKey string, payload any) {
	msg, err := protocol.NewMessage(cl.respType, payload)
	if err != nil {
		c.logger.Error("encoding reply", "type", cl.respType, "error", err)
		c.reply(cl, boardKey, "Internal error", nil)
		return
	}
	msg.BoardKey = boardKey
	msg.RequestID = cl.requestID
	msg.Origin = cl.member.ID()
	c.rooms.Reply(cl.member, msg)
}

// broadcast multicasts a success to the board's room.
func (c *Coordinator) broadcast(ctx context.Context, cl *call, boardKey string, payload any) {
	msg, err := protocol.NewMessage(cl.respType, payload)
	if err != nil {
		c.logger.Error("encoding multicast", "type", cl.respType, "error", err)
		c.reply(cl, boardKey, "Internal error", nil)
		return
	}
	msg.RequestID = cl.requestID
	msg.Origin = cl.member.ID()
	c.multicast(ctx, cl, boardKey, msg)
}

// broadcastError multicasts a failure to the board's room.
func (c *Coordinator) broadcastError(ctx context.Context, cl *call, boardKey, message string, failure *protocol.Failure) {
	msg := protocol.ErrorMessage(cl.respType, message, failureOrNil(failure))
	msg.RequestID = cl.requestID
	msg.Origin = cl.member.ID()
	c.multicast(ctx, cl, boardKey, msg)
}

func (c *Coordinator) multicast(ctx context.Context, cl *call, boardKey string, msg protocol.Message) {
	if _, err := c.rooms.Multicast(ctx, boardKey, msg); err != nil {
		c.logger.Error("multicast failed", "board_key", boardKey, "type", msg.Type, "error", err)
		// The requester still learns the outcome, unsequenced
		msg.BoardKey = boardKey
		c.rooms.Reply(cl.member, msg)
	}
}

// forget lets a retransmission of a request that failed internally be retried.
func (c *Coordinator) forget(ctx context.Context, cl *call) {
	if cl.requestID == "" || c.dedupe == nil {
		return
	}
	if err := c.dedupe.Forget(ctx, cl.requestID); err != nil {
		c.logger.Warn("forgetting request id", "request_id", cl.requestID, "error", err)
	}
}

// authorize checks the caller's permission in projectScope and that boardKey
// belongs to that project. A board nobody has written to yet is bound to the
// first project allowed to change it.
func (c *Coordinator) authorize(ctx context.Context, cl *call, boardKey, projectScope, action string) (string, error) {
	userID, err := c.gate.Authorize(ctx, cl.token, projectScope, auth.ResourceTask, action)
	if err != nil {
		return "", err
	}
	if err := c.store.BindBoard(ctx, boardKey, projectScope); err != nil {
		if errors.Is(err, store.ErrWrongProject) {
			c.logger.Warn("request for board outside its project",
				"board_key", boardKey, "project_scope", projectScope, "user_id", userID)
			return "", fmt.Errorf("%w: %w", auth.ErrPermissionDenied, err)
		}
		return "", fmt.Errorf("binding board: %w", err)
	}
	return userID, nil
}

// inProject reports whether boardKey may be read from projectScope. A board
// with no binding has never been written through the coordinator.
func (c *Coordinator) inProject(ctx context.Context, boardKey, projectScope string) (bool, error) {
	bound, err := c.store.BoardProject(ctx, boardKey)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return bound == projectScope, nil
}

// authMessage maps a gate error to the message shown to clients.
func authMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnknownSession):
		return "user not found"
	case errors.Is(err, auth.ErrPermissionDenied):
		return "Permission denied"
	default:
		return "Error checking permissions"
	}
}

func failureOrNil(f *protocol.Failure) any {
	if f == nil {
		return nil
	}
	return f
}
