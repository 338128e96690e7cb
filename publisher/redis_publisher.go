package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// StreamAdder is the subset of the redis client the publisher needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamPublisher appends each event to a Redis stream.
type RedisStreamPublisher struct {
	client StreamAdder
	stream string
	maxLen int64
}

func NewRedisStreamPublisher(client StreamAdder, stream string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"message_id":  msg.ID.String(),
			"event_type":  msg.EventType,
			"occurred_at": msg.OccurredAt.Format(time.RFC3339Nano),
			"payload":     string(msg.Payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"event_type": msg.EventType,
			"stream":     p.stream,
		}).WithError(err).Error("Redis stream append failed")
		return fmt.Errorf("redis publish %s: %w", msg.ID, err)
	}
	return nil
}

// Close is a no-op: the redis client is shared and closed by its owner.
func (p *RedisStreamPublisher) Close() error { return nil }
