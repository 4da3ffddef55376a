// Package realtime carries order events to connected restaurant clients
// over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"restaurant-orders/internal/config"
)

// Message is what subscribers of a restaurant channel receive.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Channel returns the pub/sub channel for a restaurant.
func Channel(restaurantID string) string {
	return fmt.Sprintf("restaurant:%s:orders", restaurantID)
}

// NewClient opens a Redis client and checks that the server answers.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends msg to channel. It returns the number of subscribers that
// received it.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, msg Message) (int64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal realtime message: %w", err)
	}
	n, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return n, nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
