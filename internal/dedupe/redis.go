// ABOUTME: Redis-backed Deduper shared by every gateway instance
// ABOUTME: Uses SETNX with a TTL so a request id is accepted once cluster-wide

package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers request ids so retransmitted requests are applied once.
type Deduper interface {
	// CheckAndMark returns true if key was already marked, otherwise marks it.
	CheckAndMark(ctx context.Context, key string) (bool, error)
	// Forget unmarks key so a retry of a failed request is processed.
	Forget(ctx context.Context, key string) error
	Close() error
}

// RedisDeduper stores request ids in Redis so all gateway instances agree on
// which requests were already processed.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided client. Keys are
// stored as "<prefix>:req:<key>". Closing the deduper does not close the client.
func NewRedisDeduper(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisDeduper) key(key string) string {
	return fmt.Sprintf("%s:req:%s", r.prefix, key)
}

// CheckAndMark implements Deduper.
func (r *RedisDeduper) CheckAndMark(ctx context.Context, key string) (bool, error) {
	added, err := r.client.SetNX(ctx, r.key(key), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking request %s: %w", key, err)
	}
	return !added, nil
}

// Forget implements Deduper.
func (r *RedisDeduper) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("forgetting request %s: %w", key, err)
	}
	return nil
}

// Close implements Deduper.
func (r *RedisDeduper) Close() error {
	return nil
}

var (
	_ Deduper = (*Cache)(nil)
	_ Deduper = (*RedisDeduper)(nil)
)
