// Package fulfillment runs the side effects of completed orders. Completion
// tasks arrive on a durable queue; each effect is idempotent so a task may be
// delivered any number of times.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/inventory"
	"restaurant-orders/internal/invoice"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/loyalty"
	"restaurant-orders/internal/messaging"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/store"
	"restaurant-orders/internal/telemetry"
)

// OrderReader loads the order a task refers to.
type OrderReader interface {
	Get(ctx context.Context, id string) (*models.Order, error)
}

// DeadLetterer parks a task that ran out of attempts.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, task models.CompletionTask) error
}

// Consumer delivers raw task messages.
type Consumer interface {
	StartConsuming(ctx context.Context, handler messaging.MessageHandler) error
	Close() error
}

type Deps struct {
	Orders      OrderReader
	Tasks       store.Tasks
	Inventory   *inventory.Ledger
	Invoices    *invoice.Issuer
	Loyalty     *loyalty.Allocator
	DeadLetters DeadLetterer
	Consumer    Consumer
	Relay       *Relay
	MaxAttempts int
	Logger      *logger.Logger
	Telemetry   *telemetry.Provider
}

// Worker consumes completion tasks.
type Worker struct {
	orders      OrderReader
	tasks       store.Tasks
	inventory   *inventory.Ledger
	invoices    *invoice.Issuer
	loyalty     *loyalty.Allocator
	deadLetters DeadLetterer
	consumer    Consumer
	relay       *Relay
	maxAttempts int
	logger      *logger.Logger
	tracer      trace.Tracer
	metrics     *telemetry.Metrics

	shutdown chan os.Signal
	done     chan error
}

func NewWorker(d Deps) *Worker {
	tel := d.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 5
	}
	return &Worker{
		orders:      d.Orders,
		tasks:       d.Tasks,
		inventory:   d.Inventory,
		invoices:    d.Invoices,
		loyalty:     d.Loyalty,
		deadLetters: d.DeadLetters,
		consumer:    d.Consumer,
		relay:       d.Relay,
		maxAttempts: d.MaxAttempts,
		logger:      d.Logger,
		tracer:      tel.Tracer,
		metrics:     tel.Metrics,
		shutdown:    make(chan os.Signal, 1),
		done:        make(chan error, 1),
	}
}

// Start consumes tasks and runs the outbox relay until a shutdown signal
// arrives, ctx ends or the consumer gives up.
func (w *Worker) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signal.Notify(w.shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(w.shutdown)

	if w.relay != nil {
		go w.relay.Run(ctx)
	}

	go func() {
		err := w.consumer.StartConsuming(ctx, w.handleMessage)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("consumer_failed", "Message consumer failed", requestID, err, nil)
			w.done <- err
			return
		}
		w.done <- nil
	}()

	w.logger.Info("worker_started", "Fulfillment worker started", requestID, map[string]interface{}{
		"max_attempts": w.maxAttempts,
	})

	select {
	case <-w.shutdown:
		w.logger.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
	case <-ctx.Done():
	case err := <-w.done:
		if err != nil {
			return fmt.Errorf("consumer stopped: %w", err)
		}
		return nil
	}

	cancel()
	if err := w.consumer.Close(); err != nil {
		w.logger.Error("shutdown_failed", "Failed to close consumer", requestID, err, nil)
	}
	<-w.done
	w.logger.Info("graceful_shutdown", "Graceful shutdown completed", requestID, nil)
	return nil
}

// handleMessage decodes one delivery. Malformed messages are dropped since
// redelivering them can never succeed.
func (w *Worker) handleMessage(ctx context.Context, body []byte) error {
	requestID := logger.RequestID(ctx)

	var task models.CompletionTask
	if err := json.Unmarshal(body, &task); err != nil || task.OrderID == "" {
		w.logger.Error("message_parsing_failed", "Dropping malformed completion task", requestID, err, map[string]interface{}{
			"body": string(body),
		})
		return nil
	}
	return w.Process(ctx, task)
}

// Process runs the completion effects for one task. A nil return means the
// message can be acked; an error means it should be retried later.
func (w *Worker) Process(ctx context.Context, task models.CompletionTask) (err error) {
	requestID := logger.RequestID(ctx)
	ctx, span := w.tracer.Start(ctx, "fulfillment.Process", trace.WithAttributes(
		attribute.String("order.id", task.OrderID),
		attribute.String("order.number", task.OrderNumber),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rec, err := w.tasks.Task(ctx, task.OrderID)
	if apperr.IsNotFound(err) {
		w.logger.Warn("task_unknown", "No outbox row for task, dropping", requestID, map[string]interface{}{
			"order_id": task.OrderID,
		})
		return nil
	}
	if err != nil {
		return err
	}
	if rec.State != store.TaskPending {
		w.logger.Debug("task_settled", fmt.Sprintf("Task already %s", rec.State), requestID, map[string]interface{}{
			"order_id": task.OrderID,
		})
		return nil
	}

	o, err := w.orders.Get(ctx, task.OrderID)
	if apperr.IsNotFound(err) {
		return w.giveUp(ctx, task, err)
	}
	if err != nil {
		return err
	}

	return w.runEffects(ctx, rec, o)
}

type effectStep struct {
	name string
	run  func(ctx context.Context) error
}

// runEffects attempts every effect that is not settled yet, in order. A
// failing effect does not hold back the ones after it. The task completes
// once every effect is done and is parked once the others are done and at
// least one ran out of attempts. Until then the failures are returned so the
// message comes back through the retry queue.
func (w *Worker) runEffects(ctx context.Context, rec store.TaskRecord, o *models.Order) error {
	requestID := logger.RequestID(ctx)
	task := rec.Task

	var retry, parked []error
	for _, step := range w.steps(o) {
		prev := rec.Effect(step.name)
		switch prev.State {
		case store.TaskDone:
			continue
		case store.TaskFailed:
			parked = append(parked, errors.New(prev.LastError))
			continue
		}

		runErr := w.effect(ctx, step.name, step.run)
		res, err := w.tasks.RecordEffect(ctx, task.OrderID, step.name, runErr, w.maxAttempts)
		if err != nil {
			w.logger.Error("effect_record_failed", fmt.Sprintf("Failed to record %s outcome", step.name), requestID, err, map[string]interface{}{
				"order_id": task.OrderID,
			})
			retry = append(retry, err)
			continue
		}

		switch res.State {
		case store.TaskDone:
		case store.TaskFailed:
			w.logger.Error("effect_parked", fmt.Sprintf("%s effect ran out of attempts", step.name), requestID, runErr, map[string]interface{}{
				"order_id": task.OrderID,
				"attempts": res.Attempts,
			})
			parked = append(parked, errors.New(res.LastError))
		default:
			w.logger.Warn("effect_retry", fmt.Sprintf("%s effect failed, will retry", step.name), requestID, map[string]interface{}{
				"order_id":     task.OrderID,
				"attempt":      res.Attempts,
				"max_attempts": w.maxAttempts,
				"error":        res.LastError,
			})
			retry = append(retry, runErr)
		}
	}

	if len(retry) > 0 {
		return errors.Join(retry...)
	}
	if len(parked) > 0 {
		return w.giveUp(ctx, task, errors.Join(parked...))
	}

	if err := w.tasks.Complete(ctx, task.OrderID); err != nil {
		return err
	}
	w.logger.Info("task_completed", fmt.Sprintf("Completion effects applied for order %s", o.Number), requestID, map[string]interface{}{
		"order_id":      o.ID,
		"restaurant_id": o.Restaurant,
	})
	return nil
}

// steps lists the effects of a completed order. Each one is a no-op when it
// ran before, so a partial earlier attempt is safe.
func (w *Worker) steps(o *models.Order) []effectStep {
	return []effectStep{
		{name: store.EffectInventory, run: func(ctx context.Context) error {
			res, err := w.inventory.Deduct(ctx, o)
			if err != nil {
				return err
			}
			if n := len(res.Warnings); n > 0 {
				w.metrics.LowStockWarnings.Add(ctx, int64(n), metric.WithAttributes(attribute.String("restaurant_id", o.Restaurant)))
			}
			w.logger.Debug("inventory_deducted", "Ingredient stock updated", logger.RequestID(ctx), map[string]interface{}{
				"order_id":        o.ID,
				"deductions":      len(res.Deductions),
				"already_applied": res.AlreadyApplied,
			})
			return nil
		}},
		{name: store.EffectInvoice, run: func(ctx context.Context) error {
			inv, created, err := w.invoices.Issue(ctx, o)
			if err != nil {
				return err
			}
			w.logger.Debug("invoice_issued", "Invoice recorded", logger.RequestID(ctx), map[string]interface{}{
				"order_id":   o.ID,
				"invoice_id": inv.ID,
				"created":    created,
			})
			return nil
		}},
		{name: store.EffectLoyalty, run: func(ctx context.Context) error {
			awards, err := w.loyalty.Allocate(ctx, o)
			if err != nil {
				return err
			}
			if len(awards) > 0 {
				w.logger.Debug("loyalty_credited", "Loyalty points distributed", logger.RequestID(ctx), map[string]interface{}{
					"order_id": o.ID,
					"guests":   len(awards),
				})
			}
			return nil
		}},
	}
}

func (w *Worker) effect(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := w.tracer.Start(ctx, "fulfillment."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.metrics.EffectFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("effect", name)))
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// giveUp parks a task that cannot finish on its own and acks the message.
func (w *Worker) giveUp(ctx context.Context, task models.CompletionTask, cause error) error {
	requestID := logger.RequestID(ctx)
	if err := w.tasks.Park(ctx, task.OrderID, cause.Error()); err != nil {
		w.logger.Error("task_park_failed", "Failed to park task", requestID, err, map[string]interface{}{
			"order_id": task.OrderID,
		})
		return err
	}
	w.deadLetter(ctx, task, cause)
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, task models.CompletionTask, cause error) {
	requestID := logger.RequestID(ctx)
	w.logger.Error("task_failed", "Completion task needs manual reconciliation", requestID, cause, map[string]interface{}{
		"order_id":      task.OrderID,
		"order_number":  task.OrderNumber,
		"restaurant_id": task.RestaurantID,
	})
	if w.deadLetters == nil {
		return
	}
	if err := w.deadLetters.DeadLetter(ctx, task); err != nil {
		w.logger.Error("dead_letter_failed", "Failed to publish task to dead letter queue", requestID, err, map[string]interface{}{
			"order_id": task.OrderID,
		})
	}
}
