package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// SignalBus implements domain.SignalBus with Redis Pub/Sub. Channel names are
// namespaced by the client key prefix.
type SignalBus struct {
	c *Client
}

var _ domain.SignalBus = (*SignalBus)(nil)

const subscribeBuffer = 256

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads for channel, which may be a glob
// pattern. Payloads are engine event snapshots, so a consumer that falls
// behind loses the oldest undelivered ones instead of stalling the Redis
// connection. The returned channel is closed when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.c.key(channel)
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.c.rdb.PSubscribe(ctx, name)
	} else {
		pubsub = sb.c.rdb.Subscribe(ctx, name)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	msgs := pubsub.Channel(redis.WithChannelSize(subscribeBuffer))
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer stop()
		for msg := range msgs {
			payload := []byte(msg.Payload)
			select {
			case out <- payload:
				continue
			default:
			}
			// Full: drop the oldest and retry once.
			select {
			case <-out:
			default:
			}
			select {
			case out <- payload:
			default:
			}
		}
	}()
	return out, nil
}
