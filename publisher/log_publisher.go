package publisher

import (
	"context"

	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/sirupsen/logrus"
)

// LogPublisher writes events to the application log. Used when no broker is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Log.WithFields(logrus.Fields{
		"message_id":  msg.ID,
		"event_type":  msg.EventType,
		"occurred_at": msg.OccurredAt,
		"payload":     string(msg.Payload),
	}).Info("Domain event published")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
