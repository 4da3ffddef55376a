// Package notification fans order events out to the restaurant's realtime
// channel and to the push provider.
package notification

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/push"
	"restaurant-orders/internal/realtime"
	"restaurant-orders/internal/telemetry"
)

// Realtime publishes to a pub/sub channel and reports how many listeners
// received the message.
type Realtime interface {
	Publish(ctx context.Context, channel string, msg realtime.Message) (int64, error)
}

// Notifier delivers push notifications.
type Notifier interface {
	Send(ctx context.Context, n push.Notification) error
}

// ActionPending asks a guest to accept or decline joining an order.
const ActionPending = "pending"

// Dispatcher turns one order event into a realtime message and the push
// notifications it implies.
type Dispatcher struct {
	realtime Realtime
	notifier Notifier
	logger   *logger.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
}

func NewDispatcher(rt Realtime, notifier Notifier, log *logger.Logger, tel *telemetry.Provider) *Dispatcher {
	if tel == nil {
		tel = telemetry.Noop()
	}
	return &Dispatcher{
		realtime: rt,
		notifier: notifier,
		logger:   log,
		tracer:   tel.Tracer,
		metrics:  tel.Metrics,
	}
}

// Dispatch delivers ev. Every channel is attempted even if an earlier one
// failed; the failures are logged, counted and returned joined.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.OrderEvent) (err error) {
	requestID := logger.RequestID(ctx)
	ctx, span := d.tracer.Start(ctx, "notification.Dispatch", trace.WithAttributes(
		attribute.String("event.type", string(ev.Type)),
		attribute.String("order.id", ev.OrderID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var errs []error

	channel := realtime.Channel(ev.RestaurantID)
	receivers, rtErr := d.realtime.Publish(ctx, channel, realtime.Message{Type: string(ev.Type), Payload: ev.Payload})
	if rtErr != nil {
		d.failed(ctx, "realtime", ev, rtErr)
		errs = append(errs, rtErr)
	} else {
		d.logger.Debug("realtime_published", fmt.Sprintf("Published %s to %s", ev.Type, channel), requestID, map[string]interface{}{
			"order_id":  ev.OrderID,
			"receivers": receivers,
		})
	}

	for _, n := range Notifications(ev) {
		err := d.notifier.Send(ctx, n)
		if errors.Is(err, push.ErrDisabled) {
			d.logger.Debug("push_disabled", "Push provider not configured, skipping", requestID, nil)
			break
		}
		if err != nil {
			d.failed(ctx, "push", ev, err)
			errs = append(errs, err)
			continue
		}
		d.logger.Debug("push_sent", n.Title, requestID, map[string]interface{}{
			"order_id":   ev.OrderID,
			"user_type":  n.UserType,
			"recipients": len(n.UserIDs),
		})
	}

	return errors.Join(errs...)
}

func (d *Dispatcher) failed(ctx context.Context, target string, ev *models.OrderEvent, err error) {
	d.metrics.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
	d.logger.Error("dispatch_failed", fmt.Sprintf("Failed to deliver %s via %s", ev.Type, target), logger.RequestID(ctx), err, map[string]interface{}{
		"order_id":      ev.OrderID,
		"restaurant_id": ev.RestaurantID,
	})
}

// Notifications lists the push notifications an event triggers.
//
// A new order notifies the restaurant owner and asks every other guest to
// accept. An update notifies the guests except whoever made it, and a status
// change notifies all guests. Deletions are realtime only.
func Notifications(ev *models.OrderEvent) []push.Notification {
	ref := ev.OrderNumber
	if ref == "" {
		ref = ev.OrderID
	}

	switch ev.Type {
	case models.EventOrderCreated:
		var out []push.Notification
		if ev.OwnerID != "" {
			out = append(out, push.Notification{
				UserIDs:  []string{ev.OwnerID},
				UserType: push.UserTypeRestaurant,
				Title:    "New order",
				Body:     fmt.Sprintf("Order %s was placed", ref),
				Data:     map[string]string{"orderId": ev.OrderID},
			})
		}
		if guests := except(ev.Guests, ev.ActorID); len(guests) > 0 {
			out = append(out, push.Notification{
				UserIDs:  guests,
				UserType: push.UserTypeCustomer,
				Title:    "You were added to an order",
				Body:     fmt.Sprintf("Accept or decline order %s", ref),
				Data:     map[string]string{"action": ActionPending, "orderId": ev.OrderID},
			})
		}
		return out

	case models.EventOrderUpdated:
		guests := except(ev.Guests, ev.ActorID)
		if len(guests) == 0 {
			return nil
		}
		return []push.Notification{{
			UserIDs:  guests,
			UserType: push.UserTypeCustomer,
			Title:    "Order updated",
			Body:     fmt.Sprintf("Order %s was changed", ref),
			Data:     map[string]string{"orderId": ev.OrderID},
		}}

	case models.EventOrderStatus:
		if len(ev.Guests) == 0 {
			return nil
		}
		return []push.Notification{{
			UserIDs:  append([]string(nil), ev.Guests...),
			UserType: push.UserTypeCustomer,
			Title:    "Order status",
			Body:     fmt.Sprintf("Order %s is now %s", ref, ev.NewStatus),
			Data:     map[string]string{"orderId": ev.OrderID, "status": string(ev.NewStatus)},
		}}
	}
	return nil
}

func except(ids []string, skip string) []string {
	var out []string
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
