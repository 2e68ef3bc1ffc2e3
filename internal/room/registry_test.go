// ABOUTME: Tests for the room registry, member queues, sequencers and the Redis relay
// ABOUTME: Covers join/leave, multicast stamping, isolation, slow members and cross-instance fan-out

package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/board-gateway/internal/protocol"
)

func receive(t *testing.T, q *Queue) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-q.C():
		require.True(t, ok, "queue closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return protocol.Message{}
	}
}

func assertEmpty(t *testing.T, q *Queue) {
	t.Helper()
	select {
	case msg := <-q.C():
		t.Fatalf("unexpected message %+v", msg)
	default:
	}
}

func TestRegistry_MulticastReachesEveryMember(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	a, b := NewQueue("a", 8), NewQueue("b", 8)
	require.NoError(t, r.Join(ctx, "board-1", a, nil))
	require.NoError(t, r.Join(ctx, "board-1", b, nil))

	sent, err := r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeContainerCreated})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sent.Seq)
	assert.Equal(t, "board-1", sent.BoardKey)

	for _, q := range []*Queue{a, b} {
		msg := receive(t, q)
		assert.Equal(t, protocol.TypeContainerCreated, msg.Type)
		assert.Equal(t, uint64(1), msg.Seq)
	}
}

func TestRegistry_BoardsAreIsolated(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	a, b := NewQueue("a", 8), NewQueue("b", 8)
	require.NoError(t, r.Join(ctx, "board-1", a, nil))
	require.NoError(t, r.Join(ctx, "board-2", b, nil))

	_, err := r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeTaskCreated})
	require.NoError(t, err)

	receive(t, a)
	assertEmpty(t, b)

	// Sequences are per board
	msg, err := r.Multicast(ctx, "board-2", protocol.Message{Type: protocol.TypeTaskCreated})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.Seq)
}

func TestRegistry_SequenceIncreases(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	q := NewQueue("a", 16)
	require.NoError(t, r.Join(ctx, "board-1", q, nil))

	for i := 1; i <= 5; i++ {
		_, err := r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeTaskReordered})
		require.NoError(t, err)
	}
	for i := 1; i <= 5; i++ {
		assert.Equal(t, uint64(i), receive(t, q).Seq)
	}

	current, err := r.Current(ctx, "board-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), current)
}

func TestRegistry_JoinSeesCurrentSequence(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	// Multicasts to an empty board still advance its sequence
	_, err := r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeContainerCreated})
	require.NoError(t, err)
	_, err = r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeContainerCreated})
	require.NoError(t, err)

	var joinedAt uint64
	q := NewQueue("late", 8)
	require.NoError(t, r.Join(ctx, "board-1", q, func(seq uint64) { joinedAt = seq }))
	assert.Equal(t, uint64(2), joinedAt)

	// Late joiners see new multicasts, never the earlier ones
	assertEmpty(t, q)
	_, err = r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeContainerCreated})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), receive(t, q).Seq)
}

func TestRegistry_JoinHoldsBackMulticasts(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	q := NewQueue("a", 8)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = r.Join(ctx, "board-1", q, func(seq uint64) {
			close(started)
			<-release
			q.Send(protocol.Message{Type: protocol.TypeBoardSnapshot, Seq: seq})
		})
	}()
	<-started

	multicastDone := make(chan struct{})
	go func() {
		defer close(multicastDone)
		_, _ = r.Multicast(context.Background(), "board-1", protocol.Message{Type: protocol.TypeTaskCreated})
	}()

	// The multicast cannot overtake the snapshot reply
	select {
	case <-multicastDone:
		t.Fatal("multicast completed while join was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
	<-multicastDone

	first := receive(t, q)
	assert.Equal(t, protocol.TypeBoardSnapshot, first.Type)
	assert.Equal(t, uint64(0), first.Seq)
	second := receive(t, q)
	assert.Equal(t, protocol.TypeTaskCreated, second.Type)
	assert.Equal(t, uint64(1), second.Seq)
}

func TestRegistry_Leave(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	a, b := NewQueue("a", 8), NewQueue("b", 8)
	require.NoError(t, r.Join(ctx, "board-1", a, nil))
	require.NoError(t, r.Join(ctx, "board-1", b, nil))
	assert.Equal(t, []string{"a", "b"}, r.Members("board-1"))

	r.Leave("board-1", "a")
	assert.Equal(t, []string{"b"}, r.Members("board-1"))

	_, err := r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeTaskCreated})
	require.NoError(t, err)
	assertEmpty(t, a)
	receive(t, b)

	r.Leave("board-1", "b")
	assert.Empty(t, r.Members("board-1"))
	assert.Equal(t, 0, r.Rooms())

	// Leaving twice is harmless
	r.Leave("board-1", "b")
}

func TestRegistry_LeaveAll(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	a, b := NewQueue("a", 8), NewQueue("b", 8)
	require.NoError(t, r.Join(ctx, "board-1", a, nil))
	require.NoError(t, r.Join(ctx, "board-2", a, nil))
	require.NoError(t, r.Join(ctx, "board-2", b, nil))

	r.LeaveAll("a")

	assert.Empty(t, r.Members("board-1"))
	assert.Equal(t, []string{"b"}, r.Members("board-2"))
	assert.Equal(t, 1, r.Rooms())
}

func TestRegistry_RejoinAfterRoomEmptied(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	q := NewQueue("a", 8)
	require.NoError(t, r.Join(ctx, "board-1", q, nil))
	r.Leave("board-1", "a")
	require.NoError(t, r.Join(ctx, "board-1", q, nil))

	_, err := r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeTaskCreated})
	require.NoError(t, err)
	receive(t, q)
}

func TestRegistry_SlowMemberDoesNotBlock(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	slow, fast := NewQueue("slow", 1), NewQueue("fast", 16)
	require.NoError(t, r.Join(ctx, "board-1", slow, nil))
	require.NoError(t, r.Join(ctx, "board-1", fast, nil))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 5 {
			_, _ = r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeTaskCreated})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("multicast blocked on a slow member")
	}

	assert.Equal(t, uint64(1), receive(t, slow).Seq)
	assertEmpty(t, slow)
	for i := 1; i <= 5; i++ {
		assert.Equal(t, uint64(i), receive(t, fast).Seq)
	}
}

func TestRegistry_Reply(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := t.Context()

	a, b := NewQueue("a", 8), NewQueue("b", 8)
	require.NoError(t, r.Join(ctx, "board-1", a, nil))
	require.NoError(t, r.Join(ctx, "board-1", b, nil))

	r.Reply(a, protocol.ErrorMessage(protocol.TypeContainerCreated, "denied", nil))

	msg := receive(t, a)
	assert.True(t, msg.Error)
	assert.Zero(t, msg.Seq)
	assertEmpty(t, b)
}

func TestRegistry_ConcurrentJoinMulticast(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			q := NewQueue(fmt.Sprintf("m-%d", i), 64)
			_ = r.Join(ctx, "board-1", q, nil)
			r.Leave("board-1", q.ID())
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Multicast(ctx, "board-1", protocol.Message{Type: protocol.TypeTaskCreated})
		}()
	}
	wg.Wait()

	current, err := r.Current(ctx, "board-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), current)
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue("a", 1)
	assert.True(t, q.Send(protocol.Message{Type: "x"}))
	assert.False(t, q.Send(protocol.Message{Type: "y"}), "full queue drops")

	q.Close()
	q.Close()
	assert.False(t, q.Send(protocol.Message{Type: "z"}), "closed queue drops")

	msg, ok := <-q.C()
	assert.True(t, ok)
	assert.Equal(t, "x", msg.Type)
	_, ok = <-q.C()
	assert.False(t, ok)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return client
}

func TestRedisSequencer(t *testing.T) {
	client := newTestRedis(t)
	seq := NewRedisSequencer(client, "board")
	ctx := t.Context()

	current, err := seq.Current(ctx, "b1")
	require.NoError(t, err)
	assert.Zero(t, current)

	for i := uint64(1); i <= 3; i++ {
		n, err := seq.Next(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	// A second instance continues the same counter
	other := NewRedisSequencer(client, "board")
	n, err := other.Next(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)

	current, err = seq.Current(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), current)
}

func TestRedisRelay_FansOutAcrossRegistries(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	newInstance := func(id string) *Registry {
		return NewRegistry(nil,
			WithSequencer(NewRedisSequencer(client, "board")),
			WithRelay(NewRedisRelay(client, "board", id, nil)),
		)
	}
	east, west := newInstance("east"), newInstance("west")
	defer east.Close()
	defer west.Close()

	go func() { _ = east.Run(ctx) }()
	go func() { _ = west.Run(ctx) }()

	require.Eventually(t, func() bool {
		subs, err := client.PubSubNumSub(ctx, "board:rooms").Result()
		return err == nil && subs["board:rooms"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	eastMember, westMember := NewQueue("e1", 8), NewQueue("w1", 8)
	require.NoError(t, east.Join(ctx, "b1", eastMember, nil))
	require.NoError(t, west.Join(ctx, "b1", westMember, nil))

	_, err := east.Multicast(ctx, "b1", protocol.Message{Type: protocol.TypeContainerCreated, RequestID: "req-1"})
	require.NoError(t, err)

	local := receive(t, eastMember)
	assert.Equal(t, uint64(1), local.Seq)

	remote := receive(t, westMember)
	assert.Equal(t, "req-1", remote.RequestID)
	assert.Equal(t, uint64(1), remote.Seq)
	assert.Equal(t, "b1", remote.BoardKey)

	// The publishing instance does not deliver its own frame twice
	time.Sleep(50 * time.Millisecond)
	assertEmpty(t, eastMember)
}
