package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/miguelbtcode/techmart-backend-sub002/config"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/redis/go-redis/v9"
)

var ErrUnknownDriver = errors.New("unknown publisher driver")

// Publisher delivers one outbox message downstream. A nil error means the
// transport accepted it; anything else counts as a failed attempt.
// Consumers deduplicate on event type plus message ID.
type Publisher interface {
	Publish(ctx context.Context, msg *model.OutboxMessage) error
	Close() error
}

// New builds the publisher selected by publisher.driver.
// rdb is only used by the redis driver and may be nil otherwise.
func New(cfg config.Config, rdb *redis.Client) (Publisher, error) {
	switch strings.ToLower(cfg.Publisher.Driver) {
	case "", "log":
		return NewLogPublisher(), nil
	case "kafka":
		return NewKafkaPublisher(cfg.Publisher.Kafka.Brokers, cfg.Publisher.Kafka.Topic), nil
	case "rabbitmq":
		p, err := NewRabbitMQPublisher(cfg.Publisher.RabbitMQ.URL, cfg.Publisher.RabbitMQ.Queue)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis publisher requires a redis client")
		}
		return NewRedisStreamPublisher(rdb, cfg.Publisher.Redis.Stream, cfg.Publisher.Redis.MaxLen), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Publisher.Driver)
	}
}
