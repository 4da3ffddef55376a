package order

import (
	"fmt"
	"time"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

// next lists the forward move allowed from each non-terminal status.
// Cancellation is handled separately.
var next = map[models.OrderStatus]models.OrderStatus{
	models.StatusPending:   models.StatusAccepted,
	models.StatusAccepted:  models.StatusPreparing,
	models.StatusPreparing: models.StatusCompleted,
}

// CanTransition reports whether an order in from may move to to.
func CanTransition(from, to models.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == models.StatusCancelled {
		return true
	}
	return next[from] == to
}

// Transition moves o to status to and stamps the preparation times.
// Asking for the status the order already has is a no-op: the returned
// change has Changed unset and nothing is enqueued again.
func Transition(o *models.Order, to models.OrderStatus, actor, note string, now time.Time) (models.StatusChange, error) {
	if !to.Valid() {
		return models.StatusChange{}, apperr.Validation("order.Transition", fmt.Sprintf("unknown status %q", to),
			apperr.FieldError{Field: "status", Message: "must be one of: pending accepted preparing completed cancelled"})
	}

	from := o.OrderStatus
	change := models.StatusChange{From: from, To: to, ChangedBy: actor, Note: note}
	if from == to {
		return change, nil
	}
	if !CanTransition(from, to) {
		return change, apperr.Conflict("order.Transition", fmt.Sprintf("cannot move order from %s to %s", from, to))
	}

	now = now.UTC()
	switch to {
	case models.StatusPreparing:
		o.PreparationTime.Start = &now
	case models.StatusCompleted:
		o.PreparationTime.End = &now
		o.Status = true
		change.EnqueueCompletion = true
	}
	o.OrderStatus = to
	change.Changed = true
	return change, nil
}
