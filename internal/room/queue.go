// ABOUTME: Buffered per-connection outbound message queue implementing Member
// ABOUTME: Sends never block; messages for a full or closed queue are dropped

package room

import (
	"sync"

	"github.com/2389/board-gateway/internal/protocol"
)

// DefaultQueueSize is the outbound buffer for each connection.
const DefaultQueueSize = 64

// Member is one connection that can be joined to rooms.
type Member interface {
	ID() string
	// Send enqueues msg without blocking. It returns false if msg was dropped.
	Send(msg protocol.Message) bool
}

// Queue is a Member backed by a buffered channel. The connection's writer
// drains C until it is closed.
type Queue struct {
	id     string
	mu     sync.RWMutex
	ch     chan protocol.Message
	closed bool
}

// NewQueue creates a queue holding up to size undelivered messages.
func NewQueue(id string, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		id: id,
		ch: make(chan protocol.Message, size),
	}
}

// ID implements Member.
func (q *Queue) ID() string {
	return q.id
}

// Send implements Member.
func (q *Queue) Send(msg protocol.Message) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// C returns the channel the writer drains.
func (q *Queue) C() <-chan protocol.Message {
	return q.ch
}

// Close stops accepting messages and closes C. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
