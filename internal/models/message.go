package models

import (
	"encoding/json"
	"time"
)

// EventType names an order event on the realtime channel.
type EventType string

const (
	EventOrderCreated EventType = "order.created"
	EventOrderUpdated EventType = "order.updated"
	EventOrderStatus  EventType = "order.status"
	EventOrderDeleted EventType = "order.deleted"
)

// OrderEvent is published after an order mutation and consumed by the
// notification subscriber.
type OrderEvent struct {
	Type         EventType       `json:"type"`
	RestaurantID string          `json:"restaurant_id"`
	OwnerID      string          `json:"owner_id,omitempty"`
	ActorID      string          `json:"actor_id,omitempty"`
	OrderID      string          `json:"order_id"`
	OrderNumber  string          `json:"order_number,omitempty"`
	Guests       []string        `json:"guests,omitempty"`
	OldStatus    OrderStatus     `json:"old_status,omitempty"`
	NewStatus    OrderStatus     `json:"new_status,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// CompletionTask asks the fulfillment worker to run the side effects of a
// completed order.
type CompletionTask struct {
	OrderID      string    `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	RestaurantID string    `json:"restaurant_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// NewOrderEvent builds an event carrying the order as payload.
func NewOrderEvent(eventType EventType, o *Order, ownerID, actorID string) (*OrderEvent, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return &OrderEvent{
		Type:         eventType,
		RestaurantID: o.Restaurant,
		OwnerID:      ownerID,
		ActorID:      actorID,
		OrderID:      o.ID,
		OrderNumber:  o.Number,
		Guests:       append([]string(nil), o.Guests...),
		NewStatus:    o.OrderStatus,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// NewStatusEvent builds an event for a status transition.
func NewStatusEvent(o *Order, change StatusChange) (*OrderEvent, error) {
	ev, err := NewOrderEvent(EventOrderStatus, o, "", change.ChangedBy)
	if err != nil {
		return nil, err
	}
	ev.OldStatus = change.From
	ev.NewStatus = change.To
	return ev, nil
}

// NewDeletedEvent builds the removal event; the payload is just the id.
func NewDeletedEvent(o *Order) *OrderEvent {
	payload, _ := json.Marshal(map[string]string{"_id": o.ID})
	return &OrderEvent{
		Type:         EventOrderDeleted,
		RestaurantID: o.Restaurant,
		OrderID:      o.ID,
		OrderNumber:  o.Number,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}
}
