// ABOUTME: WebSocket session that keeps a reconciled board mirror in sync with the gateway
// ABOUTME: Sends optimistic operations, feeds every gateway message to the reconciler and resyncs on gaps

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/2389/board-gateway/internal/protocol"
	"github.com/2389/board-gateway/internal/reconciler"
	"github.com/2389/board-gateway/internal/store"
)

const (
	// DefaultSweepInterval is how often pending operations are checked for timeouts.
	DefaultSweepInterval = time.Second

	writeTimeout  = 10 * time.Second
	maxFrameBytes = 8 << 20
)

// ErrClosed is returned by requests made after the session stopped running.
var ErrClosed = errors.New("session closed")

// RequestError is a failure outcome the gateway sent for one request.
type RequestError struct {
	Type    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Type, e.Message)
}

// Config describes one board session.
type Config struct {
	// URL is the gateway's WebSocket endpoint, e.g. ws://localhost:8080/ws.
	URL          string
	Token        string
	ProjectScope string
	BoardKey     string

	RevertDelay    time.Duration
	PendingTimeout time.Duration
	SweepInterval  time.Duration

	// OnChange is called after the mirror changed for any reason.
	OnChange func()
	// OnReject is called when one of our operations is reverted.
	OnReject func(op reconciler.PendingOperation, message string)
	// OnMessage sees every gateway message before it is applied.
	OnMessage func(msg protocol.Message)

	Logger *slog.Logger
}

// Session is one connection to the gateway watching one board.
type Session struct {
	cfg    Config
	conn   *websocket.Conn
	rec    *reconciler.Reconciler
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	waiters   map[string]chan protocol.Message
	resyncing bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway. The session does nothing until Run is called.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway url is required")
	}
	if cfg.BoardKey == "" {
		return nil, errors.New("board key is required")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := &websocket.DialOptions{}
	if cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + cfg.Token}}
	}
	conn, _, err := websocket.Dial(ctx, cfg.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	s := &Session{
		cfg:     cfg,
		conn:    conn,
		logger:  logger.With("component", "client", "board_key", cfg.BoardKey),
		waiters: make(map[string]chan protocol.Message),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.rec = reconciler.New(cfg.BoardKey, reconciler.Options{
		RevertDelay:    cfg.RevertDelay,
		PendingTimeout: cfg.PendingTimeout,
		Logger:         logger,
		OnChange:       s.changed,
		OnReject:       cfg.OnReject,
	})
	return s, nil
}

// Reconciler exposes the session's board mirror.
func (s *Session) Reconciler() *reconciler.Reconciler {
	return s.rec
}

// Containers returns the mirrored containers by order.
func (s *Session) Containers() []store.Container {
	return s.rec.Containers()
}

// Tasks returns the mirrored tasks in board order.
func (s *Session) Tasks() []store.Task {
	return s.rec.Tasks()
}

func (s *Session) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}

// Run joins the board and processes gateway messages until ctx is canceled
// or the connection drops.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan protocol.Message)
	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLoop(ctx, msgs)
	}()

	if err := s.send(ctx, protocol.TypeJoin, "", &protocol.JoinRequest{BoardKey: s.cfg.BoardKey}); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case err := <-readErr:
			return err
		case msg := <-msgs:
			s.handle(ctx, msg)
		case now := <-ticker.C:
			if s.rec.Sweep(now) {
				s.requestResync(ctx)
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, out chan<- protocol.Message) error {
	for {
		var msg protocol.Message
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("reading from gateway: %w", err)
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) handle(ctx context.Context, msg protocol.Message) {
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}

	if msg.RequestID != "" {
		s.mu.Lock()
		ch, ok := s.waiters[msg.RequestID]
		delete(s.waiters, msg.RequestID)
		s.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}

	if msg.Type == protocol.TypeBoardSnapshot {
		s.mu.Lock()
		s.resyncing = false
		s.mu.Unlock()
	}

	result := s.rec.Apply(msg)
	if s.rec.Loaded() {
		s.readyOnce.Do(func() { close(s.ready) })
	}
	s.logger.Debug("applied gateway message", "type", msg.Type, "seq", msg.Seq, "request_id", msg.RequestID, "result", result)

	switch result {
	case reconciler.Resync:
		s.requestResync(ctx)
	case reconciler.Applied, reconciler.Committed:
		s.changed()
	}
}

// requestResync asks for a fresh snapshot unless one is already on its way.
func (s *Session) requestResync(ctx context.Context) {
	s.mu.Lock()
	if s.resyncing {
		s.mu.Unlock()
		return
	}
	s.resyncing = true
	s.mu.Unlock()

	s.logger.Info("requesting board snapshot")
	if err := s.send(ctx, protocol.TypeGetBoard, uuid.NewString(), &protocol.GetBoardRequest{BoardKey: s.cfg.BoardKey}); err != nil {
		s.logger.Warn("resync request failed", "error", err)
		s.mu.Lock()
		s.resyncing = false
		s.mu.Unlock()
	}
}

func (s *Session) send(ctx context.Context, typ, id string, req any) error {
	env, err := protocol.NewEnvelope(typ, id, req)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, s.conn, env); err != nil {
		return fmt.Errorf("sending %s: %w", typ, err)
	}
	return nil
}

// Op is an optimistic operation awaiting the gateway's outcome.
type Op struct {
	ID      string
	Type    string
	outcome chan protocol.Message
	done    <-chan struct{}
}

// Wait blocks until the gateway answered the operation. A rejection is
// returned as a *RequestError; the mirror reverts on its own.
func (o *Op) Wait(ctx context.Context) error {
	select {
	case msg := <-o.outcome:
		if msg.Error {
			return &RequestError{Type: o.Type, Message: msg.Message}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrClosed
	}
}

func (s *Session) track(id string) chan protocol.Message {
	ch := make(chan protocol.Message, 1)
	s.mu.Lock()
	s.waiters[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *Session) untrack(id string) {
	s.mu.Lock()
	delete(s.waiters, id)
	s.mu.Unlock()
}

// request sends req and waits for the outcome carrying its request id.
func (s *Session) request(ctx context.Context, typ string, req any) (protocol.Message, error) {
	id := uuid.NewString()
	ch := s.track(id)
	defer s.untrack(id)

	if err := s.send(ctx, typ, id, req); err != nil {
		return protocol.Message{}, err
	}

	select {
	case msg := <-ch:
		if msg.Error {
			return msg, &RequestError{Type: typ, Message: msg.Message}
		}
		return msg, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-s.done:
		return protocol.Message{}, ErrClosed
	}
}

// sendOp sends an optimistic operation under its reconciler op id.
func (s *Session) sendOp(ctx context.Context, typ, opID string, req any) (*Op, error) {
	ch := s.track(opID)
	if err := s.send(ctx, typ, opID, req); err != nil {
		s.untrack(opID)
		return nil, err
	}
	return &Op{ID: opID, Type: typ, outcome: ch, done: s.done}, nil
}

func (s *Session) auth() protocol.Auth {
	// The gateway falls back to the token the connection was opened with.
	return protocol.Auth{ProjectScope: s.cfg.ProjectScope}
}

// CreateContainer adds a column optimistically and returns it as shown locally.
func (s *Session) CreateContainer(ctx context.Context, name string) (store.Container, *Op, error) {
	opID, c := s.rec.CreateContainer(name)
	s.changed()
	op, err := s.sendOp(ctx, protocol.TypeCreateContainer, opID, &protocol.CreateContainerRequest{
		Auth:     s.auth(),
		BoardKey: s.cfg.BoardKey,
		Name:     name,
		UUID:     c.UUID,
	})
	return c, op, err
}

// ReorderContainers puts the board's columns in the given order.
func (s *Session) ReorderContainers(ctx context.Context, containerUUIDs []string) (*Op, error) {
	opID, orders, err := s.rec.MoveContainers(containerUUIDs)
	if err != nil {
		return nil, err
	}
	s.changed()
	return s.sendOp(ctx, protocol.TypeReorderContainers, opID, &protocol.ReorderContainersRequest{
		Auth:     s.auth(),
		BoardKey: s.cfg.BoardKey,
		NewOrder: orders,
	})
}

// MoveTask moves a task to another column.
func (s *Session) MoveTask(ctx context.Context, taskUUID, containerUUID string) (*Op, error) {
	opID, err := s.rec.MoveTask(taskUUID, containerUUID)
	if err != nil {
		return nil, err
	}
	s.changed()
	return s.sendOp(ctx, protocol.TypeReorderTask, opID, &protocol.ReorderTaskRequest{
		Auth:          s.auth(),
		BoardKey:      s.cfg.BoardKey,
		ContainerUUID: containerUUID,
		TaskUUID:      taskUUID,
	})
}

// DeleteContainer removes a column and its tasks.
func (s *Session) DeleteContainer(ctx context.Context, containerUUID string) (*Op, error) {
	opID, err := s.rec.DeleteContainer(containerUUID)
	if err != nil {
		return nil, err
	}
	s.changed()
	return s.sendOp(ctx, protocol.TypeDeleteContainer, opID, &protocol.DeleteContainerRequest{
		Auth:          s.auth(),
		BoardKey:      s.cfg.BoardKey,
		ContainerUUID: containerUUID,
	})
}

// CreateTask asks the gateway to create a task and waits for it. Tasks are
// not shown before the gateway assigns their uuid and creator.
func (s *Session) CreateTask(ctx context.Context, req protocol.CreateTaskRequest) (store.Task, error) {
	req.Auth = s.auth()
	req.BoardKey = s.cfg.BoardKey

	msg, err := s.request(ctx, protocol.TypeCreateTask, &req)
	if err != nil {
		return store.Task{}, err
	}
	var created protocol.TaskCreated
	if err := msg.Decode(&created); err != nil {
		return store.Task{}, err
	}
	return created.Task, nil
}

// TaskDetail fetches one task with its creator and assignee names.
func (s *Session) TaskDetail(ctx context.Context, taskUUID string) (store.TaskDetail, error) {
	msg, err := s.request(ctx, protocol.TypeGetTaskDetail, &protocol.GetTaskDetailRequest{
		Auth:     s.auth(),
		TaskUUID: taskUUID,
	})
	if err != nil {
		return store.TaskDetail{}, err
	}
	var detail protocol.TaskDetail
	if err := msg.Decode(&detail); err != nil {
		return store.TaskDetail{}, err
	}
	return detail.Task, nil
}

// Snapshot fetches the board. The reply also reloads the mirror.
func (s *Session) Snapshot(ctx context.Context) (protocol.BoardSnapshot, error) {
	msg, err := s.request(ctx, protocol.TypeGetBoard, &protocol.GetBoardRequest{BoardKey: s.cfg.BoardKey})
	if err != nil {
		return protocol.BoardSnapshot{}, err
	}
	var snap protocol.BoardSnapshot
	if err := msg.Decode(&snap); err != nil {
		return protocol.BoardSnapshot{}, err
	}
	return snap, nil
}

// Leave unsubscribes from the board. Outcomes already in flight may still arrive.
func (s *Session) Leave(ctx context.Context) error {
	return s.send(ctx, protocol.TypeLeave, "", &protocol.LeaveRequest{BoardKey: s.cfg.BoardKey})
}

// Close drops the connection. Run returns shortly after.
func (s *Session) Close() error {
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.shutdown()
	return err
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Ready is closed once the first snapshot has been loaded.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed once the session stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// MarshalBoard renders the mirror as indented JSON for scripting.
func (s *Session) MarshalBoard() ([]byte, error) {
	return json.MarshalIndent(protocol.BoardSnapshot{
		BoardKey:   s.cfg.BoardKey,
		Seq:        s.rec.LastSeq(),
		Containers: s.rec.Containers(),
		Tasks:      s.rec.Tasks(),
	}, "", "  ")
}
