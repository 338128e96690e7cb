package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ErrPublishNacked is returned when the broker refuses responsibility for a message.
var ErrPublishNacked = errors.New("rabbitmq broker nacked the message")

// Confirmation resolves once the broker acks or nacks one publish.
// *amqp.DeferredConfirmation satisfies it.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// AMQPChannel is a channel in confirm mode publishing to the default exchange.
type AMQPChannel interface {
	PublishWithConfirm(ctx context.Context, queue string, msg amqp.Publishing) (Confirmation, error)
	Close() error
}

type confirmChannel struct {
	ch *amqp.Channel
}

func (c confirmChannel) PublishWithConfirm(ctx context.Context, queue string, msg amqp.Publishing) (Confirmation, error) {
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("rabbitmq channel is not in confirm mode")
	}
	return dc, nil
}

func (c confirmChannel) Close() error {
	return c.ch.Close()
}

// RabbitMQPublisher counts a message as delivered only after the broker confirms it.
// A channel closed under it is dropped and reopened on the next attempt.
type RabbitMQPublisher struct {
	mu    sync.Mutex
	url   string
	queue string
	conn  *amqp.Connection
	ch    AMQPChannel
	open  func() (AMQPChannel, error)
}

// NewRabbitMQPublisher dials the broker, declares a durable queue and puts the channel in confirm mode.
func NewRabbitMQPublisher(url, queue string) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: url, queue: queue}
	p.open = p.dial
	ch, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return p, nil
}

func NewRabbitMQPublisherWithChannel(ch AMQPChannel, queue string) *RabbitMQPublisher {
	return &RabbitMQPublisher{ch: ch, queue: queue}
}

// dial opens a confirm-mode channel, redialing when the connection is gone.
func (p *RabbitMQPublisher) dial() (AMQPChannel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable rabbitmq publisher confirms: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare rabbitmq queue %s: %w", p.queue, err)
	}
	return confirmChannel{ch: ch}, nil
}

func (p *RabbitMQPublisher) channel() (AMQPChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return p.ch, nil
	}
	if p.open == nil {
		return nil, amqp.ErrClosed
	}
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	logger.Log.WithField("queue", p.queue).Info("RabbitMQ channel reopened")
	return ch, nil
}

func (p *RabbitMQPublisher) discard(ch AMQPChannel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		_ = ch.Close()
		p.ch = nil
	}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	ch, err := p.channel()
	if err == nil {
		err = p.publishConfirmed(ctx, ch, msg)
		if errors.Is(err, amqp.ErrClosed) {
			p.discard(ch)
		}
	}
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"event_type": msg.EventType,
			"queue":      p.queue,
		}).WithError(err).Error("RabbitMQ publish failed")
		return fmt.Errorf("rabbitmq publish %s: %w", msg.ID, err)
	}
	return nil
}

func (p *RabbitMQPublisher) publishConfirmed(ctx context.Context, ch AMQPChannel, msg *model.OutboxMessage) error {
	confirmation, err := ch.PublishWithConfirm(ctx, p.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Type:         msg.EventType,
		Timestamp:    msg.OccurredAt,
		Body:         msg.Payload,
	})
	if err != nil {
		return err
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.ch != nil {
		err = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
