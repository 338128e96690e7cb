package publisher

import (
	"context"
	"fmt"

	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaWriter is the subset of kafka.Writer the publisher needs.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer KafkaWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	})
}

func NewKafkaPublisherWithWriter(w KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish keys by message ID so redeliveries of one event land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	km := kafka.Message{
		Key:   []byte(msg.ID.String()),
		Value: msg.Payload,
		Time:  msg.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "message_id", Value: []byte(msg.ID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, km); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"event_type": msg.EventType,
		}).WithError(err).Error("Kafka write failed")
		return fmt.Errorf("kafka publish %s: %w", msg.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
