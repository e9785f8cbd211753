// Package notify publishes processing progress to Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cloo-solutions/docvec/internal/service"
)

// Publisher is the subset of the Redis client the sink uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes each progress event as JSON on one channel.
type RedisSink struct {
	client  Publisher
	channel string
}

func NewRedisSink(client Publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Notify(ctx context.Context, event service.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode progress event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}
