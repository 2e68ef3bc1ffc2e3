// ABOUTME: Redis pub/sub relay fanning room multicasts out across gateway instances
// ABOUTME: Each instance publishes its multicasts and delivers everyone else's to local members

package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/board-gateway/internal/protocol"
)

// Relay carries multicasts between gateway instances.
type Relay interface {
	Publish(ctx context.Context, boardKey string, msg protocol.Message) error
	// Run delivers messages published by other instances until ctx is done.
	Run(ctx context.Context, deliver func(boardKey string, msg protocol.Message)) error
}

// relayFrame is what goes over the pub/sub channel.
type relayFrame struct {
	Instance string           `json:"instance"`
	BoardKey string           `json:"board_key"`
	Message  protocol.Message `json:"message"`
}

// RedisRelay publishes on a single channel, "<prefix>:rooms".
type RedisRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *slog.Logger
}

// NewRedisRelay creates a relay for this instance. instanceID must be unique
// per gateway process; frames carrying it are not delivered back.
func NewRedisRelay(client *redis.Client, prefix, instanceID string, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client:     client,
		channel:    prefix + ":rooms",
		instanceID: instanceID,
		logger:     logger.With("component", "relay"),
	}
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, boardKey string, msg protocol.Message) error {
	payload, err := json.Marshal(relayFrame{Instance: r.instanceID, BoardKey: boardKey, Message: msg})
	if err != nil {
		return fmt.Errorf("encoding relay frame: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing relay frame: %w", err)
	}
	return nil
}

// Run implements Relay. It resubscribes if the pub/sub channel closes.
func (r *RedisRelay) Run(ctx context.Context, deliver func(boardKey string, msg protocol.Message)) error {
	for {
		if err := r.subscribe(ctx, deliver); err != nil {
			r.logger.Error("relay subscription failed", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		r.logger.Warn("relay channel closed, resubscribing")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// subscribe delivers frames until ctx is done or the channel closes.
func (r *RedisRelay) subscribe(ctx context.Context, deliver func(boardKey string, msg protocol.Message)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.logger.Debug("relay subscribed", "channel", r.channel, "instance", r.instanceID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				r.logger.Warn("dropping malformed relay frame", "error", err)
				continue
			}
			if frame.Instance == r.instanceID {
				continue
			}
			deliver(frame.BoardKey, frame.Message)
		}
	}
}
