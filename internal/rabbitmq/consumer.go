package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"order-metrics/config"
	"order-metrics/pkg/exception"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDeliveriesClosed is returned when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// Handler processes one message body. Returning an error wrapping
// exception.ErrMalformedEvent drops the message; any other error requeues it.
type Handler func(ctx context.Context, body []byte) error

type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.RabbitMQConfig
}

func NewConsumer(cfg config.RabbitMQConfig) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Set prefetch count
	if err := channel.Qos(cfg.PrefetchCount, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		config:  cfg,
	}, nil
}

func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// ConsumeQueue delivers messages from queueName to handler one at a time until ctx is
// cancelled or the broker closes the channel.
func (c *Consumer) ConsumeQueue(ctx context.Context, queueName string, handler Handler) error {
	// Declare queue (idempotent)
	_, err := c.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	tag := "order-metrics-" + queueName
	msgs, err := c.channel.Consume(
		queueName,
		tag,   // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	zap.L().Info("Started consuming", zap.String("queue", queueName))

	err = consume(ctx, msgs, handler)
	if errors.Is(err, context.Canceled) {
		if cerr := c.channel.Cancel(tag, false); cerr != nil {
			zap.L().Warn("Failed to cancel consumer", zap.String("queue", queueName), zap.Error(cerr))
		}
		return nil
	}
	return err
}

func consume(ctx context.Context, msgs <-chan amqp.Delivery, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			settle(msg, handler(ctx, msg.Body))
		}
	}
}

// settle acks successes and malformed payloads, and requeues everything else.
func settle(msg amqp.Delivery, err error) {
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			zap.L().Warn("Failed to ack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(ackErr))
		}
	case errors.Is(err, exception.ErrMalformedEvent):
		zap.L().Warn("Dropping malformed message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(err))
		if ackErr := msg.Ack(false); ackErr != nil {
			zap.L().Warn("Failed to ack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(ackErr))
		}
	default:
		zap.L().Error("Error processing message, requeueing",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Bool("redelivered", msg.Redelivered),
			zap.Error(err))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			zap.L().Warn("Failed to nack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(nackErr))
		}
	}
}
