// ABOUTME: Room registry mapping board keys to joined connections
// ABOUTME: Provides join, leave, sequence-stamped multicast and requester-only reply

package room

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/board-gateway/internal/protocol"
)

// room holds the members of one board. mu serializes multicasts so every
// member sees a board's messages in sequence order.
type room struct {
	mu      sync.Mutex
	members map[string]Member
	dead    bool // removed from the registry; joiners must fetch a new room
}

// Registry is the concurrency-safe map from board key to joined members.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*room
	joined map[string]map[string]struct{} // memberID -> board keys
	seq    Sequencer
	relay  Relay
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSequencer replaces the default in-process sequencer.
func WithSequencer(s Sequencer) Option {
	return func(r *Registry) { r.seq = s }
}

// WithRelay fans multicasts out to other gateway instances.
func WithRelay(relay Relay) Option {
	return func(r *Registry) { r.relay = relay }
}

// NewRegistry creates a registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		rooms:  make(map[string]*room),
		joined: make(map[string]map[string]struct{}),
		seq:    NewLocalSequencer(),
		logger: logger.With("component", "rooms"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join adds m to the board's room. If onJoin is non-nil it runs with the
// board's current sequence number while multicasts to the board are held
// back, so a snapshot read inside onJoin lines up exactly with the first
// multicast m receives.
func (r *Registry) Join(ctx context.Context, boardKey string, m Member, onJoin func(seq uint64)) error {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[boardKey]
		if !ok {
			rm = &room{members: make(map[string]Member)}
			r.rooms[boardKey] = rm
		}
		boards, ok := r.joined[m.ID()]
		if !ok {
			boards = make(map[string]struct{})
			r.joined[m.ID()] = boards
		}
		boards[boardKey] = struct{}{}
		r.mu.Unlock()

		joined, err := r.joinRoom(ctx, rm, boardKey, m, onJoin)
		if !joined {
			continue
		}
		r.logger.Debug("member joined", "board_key", boardKey, "member", m.ID())
		return err
	}
}

// joinRoom adds m to rm unless rm was removed from the registry meanwhile.
func (r *Registry) joinRoom(ctx context.Context, rm *room, boardKey string, m Member, onJoin func(seq uint64)) (bool, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.dead {
		return false, nil
	}
	rm.members[m.ID()] = m
	return true, r.runLocked(ctx, boardKey, onJoin)
}

// WithCurrent runs fn with the board's current sequence number while
// multicasts to the board are held back. Used for snapshot reads outside join.
func (r *Registry) WithCurrent(ctx context.Context, boardKey string, fn func(seq uint64)) error {
	r.mu.Lock()
	rm, ok := r.rooms[boardKey]
	r.mu.Unlock()

	if !ok {
		return r.runLocked(ctx, boardKey, fn)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return r.runLocked(ctx, boardKey, fn)
}

func (r *Registry) runLocked(ctx context.Context, boardKey string, fn func(seq uint64)) error {
	if fn == nil {
		return nil
	}
	seq, err := r.seq.Current(ctx, boardKey)
	if err != nil {
		return fmt.Errorf("reading sequence: %w", err)
	}
	fn(seq)
	return nil
}

// Leave removes the member from the board's room.
func (r *Registry) Leave(boardKey, memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(boardKey, memberID)
}

// LeaveAll removes the member from every room it joined. Called on disconnect.
func (r *Registry) LeaveAll(memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for boardKey := range r.joined[memberID] {
		r.leaveLocked(boardKey, memberID)
	}
	delete(r.joined, memberID)
}

// leaveLocked must be called with r.mu held.
func (r *Registry) leaveLocked(boardKey, memberID string) {
	if boards, ok := r.joined[memberID]; ok {
		delete(boards, boardKey)
		if len(boards) == 0 {
			delete(r.joined, memberID)
		}
	}

	rm, ok := r.rooms[boardKey]
	if !ok {
		return
	}

	rm.mu.Lock()
	delete(rm.members, memberID)
	if len(rm.members) == 0 {
		rm.dead = true
		delete(r.rooms, boardKey)
	}
	rm.mu.Unlock()

	r.logger.Debug("member left", "board_key", boardKey, "member", memberID)
}

// Members returns the ids of the board's members, sorted.
func (r *Registry) Members(boardKey string) []string {
	r.mu.Lock()
	rm, ok := r.rooms[boardKey]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rooms returns the number of boards with at least one member.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Current returns the last sequence number multicast to the board.
func (r *Registry) Current(ctx context.Context, boardKey string) (uint64, error) {
	return r.seq.Current(ctx, boardKey)
}

// Multicast stamps msg with the board key and the board's next sequence
// number and delivers it to every member, the sender included. The stamped
// message is returned. Members whose queues are full miss the message and
// recover through the sequence gap.
func (r *Registry) Multicast(ctx context.Context, boardKey string, msg protocol.Message) (protocol.Message, error) {
	r.mu.Lock()
	rm := r.rooms[boardKey]
	r.mu.Unlock()

	if rm != nil {
		rm.mu.Lock()
		defer rm.mu.Unlock()
	}

	seq, err := r.seq.Next(ctx, boardKey)
	if err != nil {
		return msg, fmt.Errorf("stamping multicast: %w", err)
	}
	msg.BoardKey = boardKey
	msg.Seq = seq

	if rm != nil {
		r.deliverLocked(boardKey, rm, msg)
	}

	if r.relay != nil {
		if err := r.relay.Publish(ctx, boardKey, msg); err != nil {
			r.logger.Error("relay publish failed", "board_key", boardKey, "seq", seq, "error", err)
		}
	}
	return msg, nil
}

// Reply delivers msg to a single member only.
func (r *Registry) Reply(m Member, msg protocol.Message) {
	if !m.Send(msg) {
		r.logger.Warn("dropped reply for slow member", "member", m.ID(), "type", msg.Type)
	}
}

// deliverRelayed hands a message stamped by another instance to local members.
func (r *Registry) deliverRelayed(boardKey string, msg protocol.Message) {
	r.mu.Lock()
	rm, ok := r.rooms[boardKey]
	r.mu.Unlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	r.deliverLocked(boardKey, rm, msg)
}

// deliverLocked must be called with rm.mu held.
func (r *Registry) deliverLocked(boardKey string, rm *room, msg protocol.Message) {
	for id, m := range rm.members {
		if !m.Send(msg) {
			r.logger.Warn("dropped multicast for slow member",
				"board_key", boardKey,
				"member", id,
				"seq", msg.Seq)
		}
	}
}

// Run relays messages from other instances until ctx is done. Without a
// relay it just waits for ctx.
func (r *Registry) Run(ctx context.Context) error {
	if r.relay == nil {
		<-ctx.Done()
		return nil
	}
	return r.relay.Run(ctx, r.deliverRelayed)
}

// Close drops every room. Member queues belong to their connections and are
// left open.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for boardKey, rm := range r.rooms {
		rm.mu.Lock()
		rm.dead = true
		rm.members = make(map[string]Member)
		rm.mu.Unlock()
		delete(r.rooms, boardKey)
	}
	r.joined = make(map[string]map[string]struct{})

	r.logger.Debug("registry closed")
}
