// Package store declares the persistence ports the order engine depends on.
// internal/database implements them on PostgreSQL and store/memory keeps
// everything in process for tests.
package store

import (
	"context"
	"errors"
	"time"

	"restaurant-orders/internal/models"
)

// ErrDuplicateNumber is returned by Insert when the order number is taken.
var ErrDuplicateNumber = errors.New("order number already taken")

// OrderQueries are the reads that must observe the same snapshot as the
// insert of a new order.
type OrderQueries interface {
	// CountContending counts non-cancelled orders at deliveryTime sharing at
	// least one of tables.
	CountContending(ctx context.Context, deliveryTime time.Time, tables []string) (int, error)
	// CountReorders counts orders whose lineage points at originID.
	CountReorders(ctx context.Context, originID string) (int, error)
}

// Orders persists the order aggregate and its status history.
type Orders interface {
	OrderQueries

	// Insert stores a new order. prepare runs first in the same transaction,
	// after the waiting-list slot locks for o are held, and may fill in
	// fields derived from existing orders.
	Insert(ctx context.Context, o *models.Order, prepare func(ctx context.Context, q OrderQueries) error) error
	Get(ctx context.Context, id string) (*models.Order, error)
	GetByNumber(ctx context.Context, number string) (*models.Order, error)
	// Update replaces the order if its stored version still equals
	// expectedVersion and bumps o.Version.
	Update(ctx context.Context, o *models.Order, expectedVersion int) error
	// UpdateStatus locks the order and hands it to mutate. If the returned
	// change is a real transition the order and a history row are written,
	// plus a pending completion task when EnqueueCompletion is set, all in
	// one transaction.
	UpdateStatus(ctx context.Context, id string, mutate func(o *models.Order) (models.StatusChange, error)) (*models.Order, models.StatusChange, error)
	Delete(ctx context.Context, id string) (*models.Order, error)
	ListByRestaurant(ctx context.Context, restaurantID string, statuses []models.OrderStatus) ([]*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Order, error)
	History(ctx context.Context, orderID string) ([]models.StatusHistory, error)
}

// TaskState is the outbox state of a completion task.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
)

// Completion effects, in the order the worker runs them.
const (
	EffectInventory = "inventory"
	EffectInvoice   = "invoice"
	EffectLoyalty   = "loyalty"
)

// EffectRecord is the progress of one completion effect. Failed means the
// effect ran out of attempts and is parked.
type EffectRecord struct {
	State     TaskState
	Attempts  int
	LastError string
}

// TaskRecord is an outbox row with the progress of each of its effects.
type TaskRecord struct {
	Task      models.CompletionTask
	State     TaskState
	LastError string
	UpdatedAt time.Time
	Effects   map[string]EffectRecord
}

// Effect returns the progress of the named effect. An effect that never ran
// is pending.
func (r TaskRecord) Effect(name string) EffectRecord {
	if e, ok := r.Effects[name]; ok {
		return e
	}
	return EffectRecord{State: TaskPending}
}

// Tasks is the completion-task outbox.
type Tasks interface {
	Task(ctx context.Context, orderID string) (TaskRecord, error)
	// RecordEffect stores the outcome of one effect attempt. A nil effErr
	// marks the effect done. A failure counts against maxAttempts and parks
	// the effect as TaskFailed once they are used up. A settled effect is
	// returned unchanged.
	RecordEffect(ctx context.Context, orderID, effect string, effErr error, maxAttempts int) (EffectRecord, error)
	Complete(ctx context.Context, orderID string) error
	// Park moves the task to TaskFailed for manual reconciliation.
	Park(ctx context.Context, orderID, reason string) error
	// Stale lists pending tasks not touched since before.
	Stale(ctx context.Context, before time.Time, limit int) ([]models.CompletionTask, error)
	Touch(ctx context.Context, orderIDs ...string) error
}

// Catalog reads restaurants, menu items, combos and taxes.
type Catalog interface {
	Restaurant(ctx context.Context, id string) (models.Restaurant, error)
	MenuItems(ctx context.Context, ids []string) (map[string]models.MenuItem, error)
	Combos(ctx context.Context, ids []string) (map[string]models.Combo, error)
	TaxRate(ctx context.Context, restaurantID string) (models.Tax, bool, error)
}
