// ABOUTME: Per-board monotonically increasing sequence numbers for room multicasts
// ABOUTME: LocalSequencer counts in-process; RedisSequencer uses INCR so instances share one counter

package room

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Sequencer stamps room multicasts.
type Sequencer interface {
	// Next returns the next sequence number for boardKey, starting at 1.
	Next(ctx context.Context, boardKey string) (uint64, error)
	// Current returns the last number handed out for boardKey, or 0.
	Current(ctx context.Context, boardKey string) (uint64, error)
}

// LocalSequencer keeps counters in memory.
type LocalSequencer struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewLocalSequencer creates an in-process sequencer.
func NewLocalSequencer() *LocalSequencer {
	return &LocalSequencer{counters: make(map[string]uint64)}
}

// Next implements Sequencer.
func (s *LocalSequencer) Next(_ context.Context, boardKey string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[boardKey]++
	return s.counters[boardKey], nil
}

// Current implements Sequencer.
func (s *LocalSequencer) Current(_ context.Context, boardKey string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counters[boardKey], nil
}

// RedisSequencer keeps counters in Redis at "<prefix>:seq:<board>".
type RedisSequencer struct {
	client *redis.Client
	prefix string
}

// NewRedisSequencer creates a sequencer shared by every gateway instance.
func NewRedisSequencer(client *redis.Client, prefix string) *RedisSequencer {
	return &RedisSequencer{client: client, prefix: prefix}
}

func (s *RedisSequencer) key(boardKey string) string {
	return s.prefix + ":seq:" + boardKey
}

// Next implements Sequencer.
func (s *RedisSequencer) Next(ctx context.Context, boardKey string) (uint64, error) {
	n, err := s.client.Incr(ctx, s.key(boardKey)).Uint64()
	if err != nil {
		return 0, fmt.Errorf("incrementing sequence for %s: %w", boardKey, err)
	}
	return n, nil
}

// Current implements Sequencer.
func (s *RedisSequencer) Current(ctx context.Context, boardKey string) (uint64, error) {
	raw, err := s.client.Get(ctx, s.key(boardKey)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading sequence for %s: %w", boardKey, err)
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing sequence for %s: %w", boardKey, err)
	}
	return n, nil
}
