package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rabbitmq/amqp091-go"

	"restaurant-orders/internal/config"
	"restaurant-orders/internal/logger"
)

// Exchange, queue and routing key names.
const (
	OrdersExchange        = "orders_topic"
	NotificationsExchange = "notifications_fanout"
	RetryExchange         = "fulfillment_retry"

	FulfillmentQueue      = "fulfillment_queue"
	FulfillmentRetryQueue = "fulfillment_retry_queue"
	FulfillmentDeadQueue  = "fulfillment_dead_queue"
	NotificationsQueue    = "notifications_queue"

	CompletionRoutingKey = "fulfillment.complete"
	DeadRoutingKey       = "fulfillment.dead"
)

// RetryDelay is how long a rejected completion task waits before it is
// delivered again.
const RetryDelay = 10 * time.Second

var errClosed = errors.New("rabbitmq connection closed")

type exchange struct {
	name, kind string
}

type queue struct {
	name string
	args amqp091.Table
}

type binding struct {
	queue, exchange, key string
}

// Topology is the set of exchanges, queues and bindings the services rely on.
type Topology struct {
	Exchanges []exchange
	Queues    []queue
	Bindings  []binding
}

// DefaultTopology routes completion tasks through a delayed retry loop:
// a task rejected on fulfillment_queue is dead-lettered to the retry
// queue, waits RetryDelay and returns to fulfillment_queue.
func DefaultTopology() Topology {
	return Topology{
		Exchanges: []exchange{
			{OrdersExchange, "topic"},
			{NotificationsExchange, "fanout"},
			{RetryExchange, "fanout"},
		},
		Queues: []queue{
			{FulfillmentQueue, amqp091.Table{
				"x-dead-letter-exchange": RetryExchange,
			}},
			{FulfillmentRetryQueue, amqp091.Table{
				"x-message-ttl":             int32(RetryDelay / time.Millisecond),
				"x-dead-letter-exchange":    OrdersExchange,
				"x-dead-letter-routing-key": CompletionRoutingKey,
			}},
			{FulfillmentDeadQueue, nil},
			{NotificationsQueue, nil},
		},
		Bindings: []binding{
			{FulfillmentQueue, OrdersExchange, CompletionRoutingKey},
			{FulfillmentDeadQueue, OrdersExchange, DeadRoutingKey},
			{FulfillmentRetryQueue, RetryExchange, ""},
			{NotificationsQueue, NotificationsExchange, ""},
		},
	}
}

// Connection wraps RabbitMQ connection with reconnection logic
type Connection struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	logger   *logger.Logger
	url      string
	topology Topology
}

// New creates a new RabbitMQ connection and declares the topology.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Connection, error) {
	c := &Connection{
		logger:   log,
		url:      cfg.RabbitMQURL(),
		topology: DefaultTopology(),
	}
	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to establish initial connection: %w", err)
	}
	log.Info("rabbitmq_connected", "Connected to RabbitMQ", "startup", map[string]interface{}{
		"host": cfg.RabbitMQ.Host,
		"port": cfg.RabbitMQ.Port,
	})
	return c, nil
}

// connect dials with exponential backoff. Callers hold c.mu or own c
// exclusively.
func (c *Connection) connect(ctx context.Context) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		conn, err := amqp091.Dial(c.url)
		if err != nil {
			return struct{}{}, err
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return struct{}{}, err
		}
		if err := c.topology.declare(ch); err != nil {
			ch.Close()
			conn.Close()
			return struct{}{}, err
		}
		c.conn, c.channel = conn, ch
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Error("rabbitmq_connection_failed",
				fmt.Sprintf("Failed to connect to RabbitMQ, retrying in %v", wait.Round(time.Millisecond)),
				"startup", err, map[string]interface{}{"attempt": attempt})
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempt, err)
	}
	return nil
}

func (t Topology) declare(ch *amqp091.Channel) error {
	for _, ex := range t.Exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s exchange: %w", ex.name, err)
		}
	}
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
	}
	for _, b := range t.Bindings {
		if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s with routing key %q: %w", b.queue, b.key, err)
		}
	}
	return nil
}

// Channel returns the current channel, reconnecting first if the
// connection dropped.
func (c *Connection) Channel(ctx context.Context) (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()
	c.logger.Warn("rabbitmq_reconnecting", "Connection lost, reconnecting", "", nil)
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c.channel, nil
}

// Ping reports whether the connection is usable.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return errClosed
	}
	return ctx.Err()
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil && !c.conn.IsClosed() {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	c.conn = nil
	return nil
}
