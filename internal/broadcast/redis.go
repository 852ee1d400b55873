// internal/broadcast/redis.go
package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisPublisher publishes JSON frames through Redis PUBLISH so that every
// server instance relaying the namespace sees them.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an already connected client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	if err := p.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", topic, err)
	}
	return nil
}

// NamespacePattern is the PSUBSCRIBE pattern matching every topic under
// namespace.
func NamespacePattern(namespace string) string {
	return namespace + "/*"
}

// RunRelay pattern-subscribes to Redis and hands every message to hub until
// ctx is cancelled.
func RunRelay(ctx context.Context, client *redis.Client, pattern string, hub *Hub, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	pubsub := client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Wait for the subscription confirmation so publishes issued right after
	// startup are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	logger.Infof("relay: subscribed to %s", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logger.Info("relay: shutting down")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay: redis channel closed")
			}
			hub.Deliver(msg.Channel, []byte(msg.Payload))
		}
	}
}
