package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/messaging"
	"restaurant-orders/internal/models"
)

// Consumer delivers raw event messages.
type Consumer interface {
	StartConsuming(ctx context.Context, handler messaging.MessageHandler) error
	Close() error
}

// Subscriber consumes order events and hands them to the dispatcher.
type Subscriber struct {
	consumer   Consumer
	dispatcher *Dispatcher
	logger     *logger.Logger

	// Graceful shutdown
	shutdown chan os.Signal
	done     chan error
}

func NewSubscriber(consumer Consumer, dispatcher *Dispatcher, log *logger.Logger) *Subscriber {
	return &Subscriber{
		consumer:   consumer,
		dispatcher: dispatcher,
		logger:     log,
		shutdown:   make(chan os.Signal, 1),
		done:       make(chan error, 1),
	}
}

// Start consumes until a shutdown signal arrives, ctx ends or the consumer
// gives up.
func (s *Subscriber) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signal.Notify(s.shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.shutdown)

	s.logger.Info("service_started", "Notification subscriber started", requestID, nil)

	go func() {
		err := s.consumer.StartConsuming(ctx, s.handleEvent)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("consumer_failed", "Notification consumer failed", requestID, err, nil)
			s.done <- err
			return
		}
		s.done <- nil
	}()

	select {
	case <-s.shutdown:
		s.logger.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
	case <-ctx.Done():
	case err := <-s.done:
		if err != nil {
			return fmt.Errorf("consumer stopped: %w", err)
		}
		return nil
	}

	cancel()
	if err := s.consumer.Close(); err != nil {
		s.logger.Error("shutdown_failed", "Failed to close consumer", requestID, err, nil)
	}
	<-s.done
	s.logger.Info("graceful_shutdown", "Graceful shutdown completed", requestID, nil)
	return nil
}

// handleEvent always acks. Dispatch failures are already logged and counted,
// and a retry would resend notifications that did go out.
func (s *Subscriber) handleEvent(ctx context.Context, body []byte) error {
	requestID := logger.RequestID(ctx)

	var ev models.OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.Type == "" || ev.RestaurantID == "" {
		s.logger.Error("message_parsing_failed", "Dropping malformed order event", requestID, err, map[string]interface{}{
			"body": string(body),
		})
		return nil
	}

	s.logger.Debug("event_received", "Received order event", requestID, map[string]interface{}{
		"type":     string(ev.Type),
		"order_id": ev.OrderID,
	})

	if err := s.dispatcher.Dispatch(ctx, &ev); err != nil {
		s.logger.Warn("event_partially_dispatched", "Order event was not delivered everywhere", requestID, map[string]interface{}{
			"type":     string(ev.Type),
			"order_id": ev.OrderID,
		})
	}
	return nil
}
