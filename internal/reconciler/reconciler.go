// ABOUTME: Optimistic client reconciler for one board
// ABOUTME: Applies local changes at once, then commits or reverts them as gateway outcomes arrive

package reconciler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/board-gateway/internal/protocol"
	"github.com/2389/board-gateway/internal/store"
)

// ErrNotFound is returned when an operation names an entity the mirror does not hold.
var ErrNotFound = errors.New("not in board mirror")

// ErrOrderMismatch is returned by MoveContainers when the given uuids are not
// exactly the board's containers.
var ErrOrderMismatch = errors.New("new order must list every container exactly once")

// Kind identifies the optimistic change a PendingOperation made.
type Kind string

const (
	KindCreateContainer   Kind = "create-container"
	KindReorderContainers Kind = "reorder-containers"
	KindMoveTask          Kind = "reorder-task"
	KindDeleteContainer   Kind = "delete-container"
)

// Prior holds the values an operation overwrote. A nil value means the
// entity did not exist before.
type Prior struct {
	Containers map[string]*store.Container
	Tasks      map[string]*store.Task
}

// PendingOperation is a local change the gateway has not answered yet. ID is
// sent as the request id; Seq orders operations made by this client.
type PendingOperation struct {
	ID        string
	Seq       uint64
	Kind      Kind
	Prior     Prior
	CreatedAt time.Time

	rejected bool
}

// Result reports what Apply did with a message.
type Result int

const (
	Ignored   Result = iota // not for this board, a duplicate, or nothing to change
	Applied                 // someone else's outcome was merged into the mirror
	Committed               // one of our pending operations was confirmed
	Rejected                // one of our pending operations failed; a revert is scheduled
	Resync                  // a sequence gap was found; fetch a fresh snapshot
)

func (r Result) String() string {
	switch r {
	case Ignored:
		return "ignored"
	case Applied:
		return "applied"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	case Resync:
		return "resync"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Options tune a Reconciler. Zero values select the defaults.
type Options struct {
	// RevertDelay is how long a rejected change stays visible before it is
	// undone, so drag animations can settle.
	RevertDelay time.Duration
	// PendingTimeout bounds how long an operation may wait for its outcome
	// before Sweep asks for a resync. Zero disables the bound.
	PendingTimeout time.Duration

	// AfterFunc schedules f after d. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
	Now       func() time.Time
	NewID     func() string

	// OnChange is called after a scheduled revert changed the mirror.
	OnChange func()
	// OnReject is called when a pending operation is reverted.
	OnReject func(op PendingOperation, message string)

	Logger *slog.Logger
}

// Reconciler keeps an optimistic mirror of one board. It is safe for
// concurrent use.
type Reconciler struct {
	mu       sync.Mutex
	boardKey string
	opts     Options
	mirror   *mirror
	pending  map[string]*PendingOperation
	clock    uint64 // stamps local operations and merged updates
	lastSeq  uint64 // last room sequence number applied
	loaded   bool
	resync   bool
	logger   *slog.Logger
}

// New creates a reconciler for boardKey. It holds nothing until the first
// snapshot is loaded.
func New(boardKey string, opts Options) *Reconciler {
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		boardKey: boardKey,
		opts:     opts,
		mirror:   newMirror(),
		pending:  make(map[string]*PendingOperation),
		logger:   logger.With("component", "reconciler", "board_key", boardKey),
	}
}

// BoardKey returns the board this reconciler mirrors.
func (r *Reconciler) BoardKey() string {
	return r.boardKey
}

// Load replaces the mirror with a snapshot. Pending operations are dropped:
// their outcomes, if they still arrive, are merged like anyone else's.
func (r *Reconciler) Load(snap protocol.BoardSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked(snap)
}

func (r *Reconciler) loadLocked(snap protocol.BoardSnapshot) {
	r.mirror.load(snap.Containers, snap.Tasks)
	if len(r.pending) > 0 {
		r.logger.Debug("snapshot dropped pending operations", "count", len(r.pending))
	}
	r.pending = make(map[string]*PendingOperation)
	r.lastSeq = snap.Seq
	r.loaded = true
	r.resync = false
}

func (r *Reconciler) tick() uint64 {
	r.clock++
	return r.clock
}

func (r *Reconciler) begin(kind Kind) *PendingOperation {
	op := &PendingOperation{
		ID:        r.opts.NewID(),
		Seq:       r.tick(),
		Kind:      kind,
		Prior:     Prior{Containers: map[string]*store.Container{}, Tasks: map[string]*store.Task{}},
		CreatedAt: r.opts.Now(),
	}
	r.pending[op.ID] = op
	return op
}

// CreateContainer adds a container in the creating state at the end of the
// board and returns the operation id together with the new container.
func (r *Reconciler) CreateContainer(name string) (string, store.Container) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.begin(KindCreateContainer)
	c := store.Container{
		UUID:     r.opts.NewID(),
		BoardKey: r.boardKey,
		Name:     name,
		Order:    r.mirror.maxOrder() + 1,
		State:    store.ContainerCreating,
	}
	op.Prior.Containers[c.UUID] = nil
	r.mirror.setContainer(c.UUID, &c, op.Seq)
	return op.ID, c
}

// MoveContainers reorders the board to the given container uuids, first to
// last, and returns the operation id and the order list to send.
func (r *Reconciler) MoveContainers(uuids []string) (string, []store.ContainerOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(uuids) != len(r.mirror.containers) {
		return "", nil, ErrOrderMismatch
	}
	seen := make(map[string]bool, len(uuids))
	for _, id := range uuids {
		if _, ok := r.mirror.containers[id]; !ok || seen[id] {
			return "", nil, ErrOrderMismatch
		}
		seen[id] = true
	}

	op := r.begin(KindReorderContainers)
	orders := make([]store.ContainerOrder, len(uuids))
	for i, id := range uuids {
		c := r.mirror.container(id)
		op.Prior.Containers[id] = c
		next := *c
		next.Order = i + 1
		r.mirror.setContainer(id, &next, op.Seq)
		orders[i] = store.ContainerOrder{ContainerUUID: id, Order: next.Order}
	}
	return op.ID, orders, nil
}

// MoveTask moves a task to another container.
func (r *Reconciler) MoveTask(taskUUID, containerUUID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.mirror.task(taskUUID)
	if t == nil {
		return "", fmt.Errorf("task %s: %w", taskUUID, ErrNotFound)
	}
	if r.mirror.container(containerUUID) == nil {
		return "", fmt.Errorf("container %s: %w", containerUUID, ErrNotFound)
	}

	op := r.begin(KindMoveTask)
	op.Prior.Tasks[taskUUID] = t
	next := copyTask(*t)
	next.ContainerUUID = containerUUID
	r.mirror.setTask(taskUUID, &next, op.Seq)
	return op.ID, nil
}

// DeleteContainer removes a container and its tasks.
func (r *Reconciler) DeleteContainer(containerUUID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.mirror.container(containerUUID)
	if c == nil {
		return "", fmt.Errorf("container %s: %w", containerUUID, ErrNotFound)
	}

	op := r.begin(KindDeleteContainer)
	op.Prior.Containers[containerUUID] = c
	r.mirror.setContainer(containerUUID, nil, op.Seq)
	for _, id := range r.mirror.tasksIn(containerUUID) {
		op.Prior.Tasks[id] = r.mirror.task(id)
		r.mirror.setTask(id, nil, op.Seq)
	}
	return op.ID, nil
}

// Apply merges one gateway message into the mirror.
func (r *Reconciler) Apply(msg protocol.Message) Result {
	r.mu.Lock()
	result, after := r.applyLocked(msg)
	r.mu.Unlock()

	if after != nil {
		after()
	}
	return result
}

func (r *Reconciler) applyLocked(msg protocol.Message) (Result, func()) {
	if msg.BoardKey != "" && msg.BoardKey != r.boardKey {
		return Ignored, nil
	}

	if msg.Type == protocol.TypeBoardSnapshot {
		if msg.Error {
			r.logger.Warn("snapshot request failed", "message", msg.Message)
			return Ignored, nil
		}
		var snap protocol.BoardSnapshot
		if err := msg.Decode(&snap); err != nil {
			r.logger.Error("decoding snapshot", "error", err)
			return Ignored, nil
		}
		r.loadLocked(snap)
		return Applied, nil
	}

	if msg.Seq != 0 {
		switch {
		case !r.loaded || r.resync:
			// A snapshot is on its way and will cover this message
			return Ignored, nil
		case msg.Seq <= r.lastSeq:
			return Ignored, nil
		case msg.Seq > r.lastSeq+1:
			r.logger.Warn("sequence gap, resync needed", "last_seq", r.lastSeq, "seq", msg.Seq)
			r.resync = true
			return Resync, nil
		}
		r.lastSeq = msg.Seq
	}

	if op, ok := r.pending[msg.RequestID]; ok && msg.RequestID != "" {
		if msg.Error {
			if op.rejected {
				return Ignored, nil
			}
			op.rejected = true
			id, message := op.ID, msg.Message
			return Rejected, func() {
				r.opts.AfterFunc(r.opts.RevertDelay, func() { r.revert(id, message) })
			}
		}
		delete(r.pending, op.ID)
		r.mergeLocked(msg, func(container bool, id string) bool {
			return r.supersededLocked(op, container, id)
		})
		return Committed, nil
	}

	if msg.Error {
		// Someone else's request failed; nothing of it was applied here
		return Ignored, nil
	}
	if r.mergeLocked(msg, nil) {
		return Applied, nil
	}
	return Ignored, nil
}

// latestToucher returns the pending operation that last wrote the entity, if any.
func (r *Reconciler) latestToucher(container bool, id string) *PendingOperation {
	stamp := r.mirror.taskTouch[id]
	if container {
		stamp = r.mirror.containerTouch[id]
	}
	for _, op := range r.pending {
		if op.Seq == stamp {
			return op
		}
	}
	return nil
}

// supersededLocked reports whether a newer pending operation of ours has
// overwritten the entity since op did.
func (r *Reconciler) supersededLocked(op *PendingOperation, container bool, id string) bool {
	latest := r.latestToucher(container, id)
	return latest != nil && latest != op && latest.Seq > op.Seq
}

// mergeLocked applies an outcome payload. skip, when non-nil, vetoes single
// entities. It reports whether the message was understood.
func (r *Reconciler) mergeLocked(msg protocol.Message, skip func(container bool, id string) bool) bool {
	allowed := func(container bool, id string) bool {
		return skip == nil || !skip(container, id)
	}

	switch msg.Type {
	case protocol.TypeContainerCreated:
		var p protocol.ContainerCreated
		if err := msg.Decode(&p); err != nil {
			r.logger.Error("decoding container-created", "error", err)
			return false
		}
		if !allowed(true, p.ContainerUUID) {
			r.confirmCreatedLocked(p.ContainerUUID)
			return true
		}
		c := store.Container{UUID: p.ContainerUUID, BoardKey: r.boardKey, Name: p.Name, Order: p.Order, State: store.ContainerCreated}
		if existing := r.mirror.container(p.ContainerUUID); existing != nil && !existing.State.CanTransition(store.ContainerCreated) {
			r.logger.Warn("unexpected container state transition", "container_uuid", p.ContainerUUID, "from", existing.State)
		}
		r.mirror.setContainer(c.UUID, &c, r.tick())

	case protocol.TypeContainersReordered:
		var p protocol.ContainersReordered
		if err := msg.Decode(&p); err != nil {
			r.logger.Error("decoding containers-reordered", "error", err)
			return false
		}
		stamp := r.tick()
		for _, o := range p.NewOrder {
			c := r.mirror.container(o.ContainerUUID)
			if c == nil || !allowed(true, o.ContainerUUID) {
				continue
			}
			c.Order = o.Order
			r.mirror.setContainer(c.UUID, c, stamp)
		}

	case protocol.TypeContainerDeleted:
		var p protocol.ContainerDeleted
		if err := msg.Decode(&p); err != nil {
			r.logger.Error("decoding container-deleted", "error", err)
			return false
		}
		stamp := r.tick()
		r.mirror.setContainer(p.ContainerUUID, nil, stamp)
		for _, id := range r.mirror.tasksIn(p.ContainerUUID) {
			r.mirror.setTask(id, nil, stamp)
		}

	case protocol.TypeTaskCreated:
		var p protocol.TaskCreated
		if err := msg.Decode(&p); err != nil {
			r.logger.Error("decoding task-created", "error", err)
			return false
		}
		r.mirror.setTask(p.Task.UUID, &p.Task, r.tick())

	case protocol.TypeTaskReordered:
		var p protocol.TaskReordered
		if err := msg.Decode(&p); err != nil {
			r.logger.Error("decoding task-reordered", "error", err)
			return false
		}
		if !allowed(false, p.TaskUUID) {
			return true
		}
		r.mirror.setTask(p.TaskUUID, &p.Task, r.tick())

	default:
		return false
	}
	return true
}

// confirmCreatedLocked marks a container as created without replacing the
// newer local edit that supersedes the create. The stamp is kept so the edit
// still owns the container.
func (r *Reconciler) confirmCreatedLocked(id string) {
	if c := r.mirror.container(id); c != nil {
		c.State = store.ContainerCreated
		r.mirror.setContainer(id, c, r.mirror.containerTouch[id])
	}
	if op := r.latestToucher(true, id); op != nil {
		if prior := op.Prior.Containers[id]; prior != nil {
			prior.State = store.ContainerCreated
		}
	}
}

// revert undoes a rejected operation. An entity is restored only if nothing
// touched it after the operation did. If a newer pending operation of ours
// touched it instead, that operation inherits the prior value so its own
// revert lands on the last confirmed state.
func (r *Reconciler) revert(id, message string) {
	r.mu.Lock()
	op, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, id)

	changed := false
	stamp := r.tick()
	for cid, prior := range op.Prior.Containers {
		if r.mirror.containerTouch[cid] == op.Seq {
			r.mirror.setContainer(cid, prior, stamp)
			changed = true
		} else if next := r.latestToucher(true, cid); next != nil && next.Seq > op.Seq {
			next.Prior.Containers[cid] = prior
		}
	}
	for tid, prior := range op.Prior.Tasks {
		if r.mirror.taskTouch[tid] == op.Seq {
			r.mirror.setTask(tid, prior, stamp)
			changed = true
		} else if next := r.latestToucher(false, tid); next != nil && next.Seq > op.Seq {
			next.Prior.Tasks[tid] = prior
		}
	}
	snapshot := *op
	r.mu.Unlock()

	r.logger.Info("reverted rejected operation", "op", id, "kind", op.Kind, "message", message, "changed", changed)
	if r.opts.OnReject != nil {
		r.opts.OnReject(snapshot, message)
	}
	if changed && r.opts.OnChange != nil {
		r.opts.OnChange()
	}
}

// Sweep asks for a resync if any pending operation has waited longer than
// PendingTimeout. It returns whether a resync is needed.
func (r *Reconciler) Sweep(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opts.PendingTimeout <= 0 || r.resync {
		return r.resync
	}
	for _, op := range r.pending {
		if now.Sub(op.CreatedAt) >= r.opts.PendingTimeout {
			r.logger.Warn("pending operation timed out, resync needed", "op", op.ID, "kind", op.Kind, "age", now.Sub(op.CreatedAt))
			r.pending = make(map[string]*PendingOperation)
			r.resync = true
			break
		}
	}
	return r.resync
}

// NeedsResync reports whether the mirror must be reloaded from a snapshot.
func (r *Reconciler) NeedsResync() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resync
}

// Loaded reports whether a snapshot has been loaded.
func (r *Reconciler) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// LastSeq returns the last room sequence number applied.
func (r *Reconciler) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

// Containers returns the mirrored containers by order.
func (r *Reconciler) Containers() []store.Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mirror.sortedContainers()
}

// Tasks returns the mirrored tasks in board order.
func (r *Reconciler) Tasks() []store.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mirror.sortedTasks()
}

// Container returns one mirrored container.
func (r *Reconciler) Container(id string) (store.Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.mirror.containers[id]
	return c, ok
}

// Task returns one mirrored task.
func (r *Reconciler) Task(id string) (store.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.mirror.task(id)
	if t == nil {
		return store.Task{}, false
	}
	return *t, true
}

// Pending returns the unanswered operations, oldest first.
func (r *Reconciler) Pending() []PendingOperation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PendingOperation, 0, len(r.pending))
	for _, op := range r.pending {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
