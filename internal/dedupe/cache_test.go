// ABOUTME: Tests for the request id dedupe cache and the Redis deduper
// ABOUTME: Validates TTL expiry, size limits, eviction order, sweeps and concurrency safety

package dedupe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, maxSize)
	c.mu.Lock()
	c.now = clock.Now
	c.mu.Unlock()
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestCache_CheckAndMark_NewKey(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 100)

	dup, err := cache.CheckAndMark(t.Context(), "req-1")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.True(t, cache.Seen("req-1"))
}

func TestCache_CheckAndMark_SeenKey(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 100)

	_, _ = cache.CheckAndMark(t.Context(), "req-1")
	dup, err := cache.CheckAndMark(t.Context(), "req-1")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestCache_CheckAndMark_Expired(t *testing.T) {
	cache, clock := newTestCache(t, time.Minute, 100)

	_, _ = cache.CheckAndMark(t.Context(), "req-1")
	clock.Advance(time.Minute + time.Second)

	assert.False(t, cache.Seen("req-1"))
	dup, _ := cache.CheckAndMark(t.Context(), "req-1")
	assert.False(t, dup, "expired keys are accepted again")
}

func TestCache_Forget(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 100)

	_, _ = cache.CheckAndMark(t.Context(), "req-1")
	require.NoError(t, cache.Forget(t.Context(), "req-1"))
	require.NoError(t, cache.Forget(t.Context(), "never-marked"))

	dup, _ := cache.CheckAndMark(t.Context(), "req-1")
	assert.False(t, dup)
}

func TestCache_EvictionOrder(t *testing.T) {
	cache, clock := newTestCache(t, time.Hour, 3)
	ctx := t.Context()

	for _, k := range []string{"a", "b", "c"} {
		_, _ = cache.CheckAndMark(ctx, k)
		clock.Advance(time.Second)
	}

	_, _ = cache.CheckAndMark(ctx, "d") // evicts a
	assert.False(t, cache.Seen("a"))
	assert.True(t, cache.Seen("b"))
	assert.Equal(t, 3, cache.Len())

	_, _ = cache.CheckAndMark(ctx, "e") // evicts b
	assert.False(t, cache.Seen("b"))
	assert.True(t, cache.Seen("c"))
	assert.True(t, cache.Seen("d"))
	assert.True(t, cache.Seen("e"))
}

func TestCache_Sweep(t *testing.T) {
	cache, clock := newTestCache(t, time.Minute, 100)
	ctx := t.Context()

	_, _ = cache.CheckAndMark(ctx, "old-1")
	_, _ = cache.CheckAndMark(ctx, "old-2")
	clock.Advance(45 * time.Second)
	_, _ = cache.CheckAndMark(ctx, "fresh")
	clock.Advance(30 * time.Second)

	cache.sweep()

	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Seen("fresh"))
}

func TestCache_Concurrent(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 1000)

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every goroutine races on the same ten keys
			dup, _ := cache.CheckAndMark(context.Background(), fmt.Sprintf("req-%d", i%10))
			if !dup {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), firsts.Load(), "each key is accepted exactly once")
}

func TestCache_Close(t *testing.T) {
	cache := New(time.Minute, 10)
	assert.NoError(t, cache.Close())
	assert.NoError(t, cache.Close())
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
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
	return client, m
}

func TestRedisDeduper(t *testing.T) {
	client, m := newTestRedis(t)
	deduper := NewRedisDeduper(client, "board", time.Minute)
	ctx := context.Background()

	dup, err := deduper.CheckAndMark(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.True(t, m.Exists("board:req:req-1"))

	dup, err = deduper.CheckAndMark(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, dup)

	require.NoError(t, deduper.Forget(ctx, "req-1"))
	dup, err = deduper.CheckAndMark(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRedisDeduper_Expiry(t *testing.T) {
	client, m := newTestRedis(t)
	deduper := NewRedisDeduper(client, "board", time.Minute)
	ctx := context.Background()

	_, err := deduper.CheckAndMark(ctx, "req-1")
	require.NoError(t, err)

	m.FastForward(2 * time.Minute)

	dup, err := deduper.CheckAndMark(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRedisDeduper_SharedAcrossInstances(t *testing.T) {
	client, _ := newTestRedis(t)
	first := NewRedisDeduper(client, "board", time.Minute)
	second := NewRedisDeduper(client, "board", time.Minute)

	dup, err := first.CheckAndMark(t.Context(), "req-1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = second.CheckAndMark(t.Context(), "req-1")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestRedisDeduper_ServerDown(t *testing.T) {
	client, m := newTestRedis(t)
	deduper := NewRedisDeduper(client, "board", time.Minute)
	m.Close()

	_, err := deduper.CheckAndMark(t.Context(), "req-1")
	assert.Error(t, err)
}
