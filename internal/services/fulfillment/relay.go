package fulfillment

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/store"
)

// Enqueuer publishes completion tasks to the durable queue.
type Enqueuer interface {
	EnqueueCompletion(ctx context.Context, task models.CompletionTask) error
}

// Relay re-publishes pending outbox rows that were never picked up, which
// happens when the order service stops between commit and publish.
type Relay struct {
	tasks    store.Tasks
	enqueuer Enqueuer
	interval time.Duration
	batch    int
	logger   *logger.Logger
	now      func() time.Time
	backoff  func() backoff.BackOff
}

func NewRelay(tasks store.Tasks, enqueuer Enqueuer, interval time.Duration, log *logger.Logger) *Relay {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Relay{
		tasks:    tasks,
		enqueuer: enqueuer,
		interval: interval,
		batch:    100,
		logger:   log,
		now:      time.Now,
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Run calls RunOnce every interval until ctx ends.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("relay_failed", "Outbox relay pass failed", "", err, nil)
			}
		}
	}
}

// RunOnce re-publishes tasks that have been pending for longer than the
// interval and returns how many were sent. Sent rows are touched so the
// next pass leaves them alone until they go stale again.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	requestID := logger.GenerateRequestID()
	ctx = logger.WithRequestID(ctx, requestID)

	stale, err := r.tasks.Stale(ctx, r.now().Add(-r.interval), r.batch)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	sent := make([]string, 0, len(stale))
	for _, task := range stale {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, r.enqueuer.EnqueueCompletion(ctx, task)
		},
			backoff.WithBackOff(r.backoff()),
			backoff.WithMaxTries(3),
		)
		if err != nil {
			r.logger.Error("relay_publish_failed", "Failed to re-publish completion task", requestID, err, map[string]interface{}{
				"order_id": task.OrderID,
			})
			continue
		}
		sent = append(sent, task.OrderID)
	}

	if len(sent) > 0 {
		if err := r.tasks.Touch(ctx, sent...); err != nil {
			return len(sent), err
		}
		r.logger.Info("relay_republished", "Re-published stale completion tasks", requestID, map[string]interface{}{
			"count": len(sent),
		})
	}
	return len(sent), nil
}
