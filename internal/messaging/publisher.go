package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn   *Connection
	logger *logger.Logger
	// serializes publishes on the shared channel
	mu sync.Mutex
}

// NewPublisher creates a new message publisher
func NewPublisher(conn *Connection, log *logger.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: log,
	}
}

// PublishEvent fans an order event out to every notification subscriber.
func (p *Publisher) PublishEvent(ctx context.Context, ev *models.OrderEvent) error {
	return p.publishMessage(ctx, NotificationsExchange, "", ev, true)
}

// EnqueueCompletion puts a completion task on the durable fulfillment queue.
func (p *Publisher) EnqueueCompletion(ctx context.Context, task models.CompletionTask) error {
	return p.publishMessage(ctx, OrdersExchange, CompletionRoutingKey, task, true)
}

// DeadLetter parks a task that exhausted its attempts.
func (p *Publisher) DeadLetter(ctx context.Context, task models.CompletionTask) error {
	return p.publishMessage(ctx, OrdersExchange, DeadRoutingKey, task, true)
}

// publishMessage is the generic message publishing function
func (p *Publisher) publishMessage(ctx context.Context, exchange, routingKey string, message interface{}, persistent bool) error {
	requestID := logger.RequestID(ctx)

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	deliveryMode := amqp091.Transient
	if persistent {
		deliveryMode = amqp091.Persistent
	}
	publishing := amqp091.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  deliveryMode,
		Timestamp:     time.Now(),
		CorrelationId: requestID,
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}
	err = ch.PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		publishing,
	)
	if err != nil {
		p.logger.Error("message_publish_failed",
			fmt.Sprintf("Failed to publish message to exchange %s", exchange),
			requestID, err, map[string]interface{}{
				"exchange":    exchange,
				"routing_key": routingKey,
			})
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message_published",
		fmt.Sprintf("Published message to exchange %s", exchange),
		requestID, map[string]interface{}{
			"exchange":     exchange,
			"routing_key":  routingKey,
			"message_size": len(body),
		})
	return nil
}
