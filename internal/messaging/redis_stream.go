package messaging

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStreamMaxLen caps each Redis stream approximately
const DefaultStreamMaxLen = 10000

// RedisStreamPublisher appends events to a Redis stream named after the subject
type RedisStreamPublisher struct {
	client redis.Cmdable
	maxLen int64
}

func NewRedisStreamPublisher(client redis.Cmdable, maxLen int64) *RedisStreamPublisher {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStreamPublisher{client: client, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: subject,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", subject, err)
	}
	return nil
}
