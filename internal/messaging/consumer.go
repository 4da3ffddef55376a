package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-orders/internal/logger"
)

// MessageHandler processes one delivery. A nil return acks the message.
type MessageHandler func(ctx context.Context, body []byte) error

// ConsumerOptions tunes a consumer.
type ConsumerOptions struct {
	Prefetch int
	// RequeueOnError puts failed messages back at the head of the queue.
	// Without it a failed message is rejected and goes to the queue's
	// dead-letter exchange, if any.
	RequeueOnError bool
	// HandlerTimeout bounds a single handler call.
	HandlerTimeout time.Duration
}

// Consumer handles message consumption from RabbitMQ
type Consumer struct {
	conn        *Connection
	logger      *logger.Logger
	queueName   string
	consumerTag string
	opts        ConsumerOptions
}

// NewConsumer creates a new message consumer
func NewConsumer(conn *Connection, log *logger.Logger, queueName, consumerTag string, opts ConsumerOptions) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}
	return &Consumer{
		conn:        conn,
		logger:      log,
		queueName:   queueName,
		consumerTag: consumerTag,
		opts:        opts,
	}
}

// StartConsuming consumes until ctx is cancelled. A closed delivery channel
// triggers a reconnect and a fresh subscription.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	for {
		msgs, err := c.subscribe(ctx)
		if err != nil {
			return err
		}

		c.logger.Info("consumer_started",
			fmt.Sprintf("Started consuming from queue %s", c.queueName),
			"", map[string]interface{}{
				"queue":    c.queueName,
				"consumer": c.consumerTag,
				"prefetch": c.opts.Prefetch,
			})

		if done := c.drain(ctx, msgs, handler); done {
			c.logger.Info("consumer_stopped", "Consumer stopped by context", "", map[string]interface{}{"queue": c.queueName})
			return ctx.Err()
		}
		c.logger.Error("consumer_channel_closed", "Message channel closed, attempting to reconnect", "", nil,
			map[string]interface{}{"queue": c.queueName})
	}
}

func (c *Consumer) subscribe(ctx context.Context) (<-chan amqp091.Delivery, error) {
	ch, err := c.conn.Channel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reconnect: %w", err)
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := ch.Consume(
		c.queueName,   // queue
		c.consumerTag, // consumer
		false,         // auto-ack (we'll ack manually)
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

// drain returns true when ctx ended and false when the channel closed.
func (c *Consumer) drain(ctx context.Context, msgs <-chan amqp091.Delivery, handler MessageHandler) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-msgs:
			if !ok {
				return ctx.Err() != nil
			}
			c.processMessage(ctx, d, handler)
		}
	}
}

// acknowledger is the part of amqp091.Delivery processMessage needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) processMessage(ctx context.Context, delivery amqp091.Delivery, handler MessageHandler) {
	c.handle(ctx, delivery.Body, delivery.CorrelationId, delivery.RoutingKey, delivery, handler)
}

func (c *Consumer) handle(ctx context.Context, body []byte, requestID, routingKey string, ack acknowledger, handler MessageHandler) {
	startTime := time.Now()
	if requestID == "" {
		requestID = logger.GenerateRequestID()
	}
	ctx = logger.WithRequestID(ctx, requestID)

	c.logger.Debug("message_received", "Processing message", requestID, map[string]interface{}{
		"queue":        c.queueName,
		"routing_key":  routingKey,
		"message_size": len(body),
	})

	processingCtx, cancel := context.WithTimeout(ctx, c.opts.HandlerTimeout)
	defer cancel()

	err := handler(processingCtx, body)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("message_processing_failed", "Failed to process message", requestID, err, map[string]interface{}{
			"queue":       c.queueName,
			"routing_key": routingKey,
			"duration_ms": duration.Milliseconds(),
			"requeue":     c.opts.RequeueOnError,
		})
		if nackErr := ack.Nack(false, c.opts.RequeueOnError); nackErr != nil {
			c.logger.Error("message_nack_failed", "Failed to nack message", requestID, nackErr, nil)
		}
		return
	}

	c.logger.Debug("message_processed", "Successfully processed message", requestID, map[string]interface{}{
		"queue":       c.queueName,
		"routing_key": routingKey,
		"duration_ms": duration.Milliseconds(),
	})
	if ackErr := ack.Ack(false); ackErr != nil {
		c.logger.Error("message_ack_failed", "Failed to ack message", requestID, ackErr, nil)
	}
}

// Close cancels the consumer subscription.
func (c *Consumer) Close() error {
	c.conn.mu.Lock()
	ch := c.conn.channel
	c.conn.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		return nil
	}
	if err := ch.Cancel(c.consumerTag, false); err != nil {
		c.logger.Error("consumer_cancel_failed", "Failed to cancel consumer", "", err, nil)
		return err
	}
	return nil
}
