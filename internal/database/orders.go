package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/store"
	"restaurant-orders/internal/waitlist"
)

const uniqueViolation = "23505"

// OrderRepository stores orders, their status log and the completion
// outbox rows written with a status change.
type OrderRepository struct {
	db *DB
}

func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type txQueries struct {
	q querier
}

func (t txQueries) CountContending(ctx context.Context, deliveryTime time.Time, tables []string) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, CountContendingSQL, deliveryTime.UTC(), tables).Scan(&n)
	return n, err
}

// CountReorders takes a lock on the origin first so two concurrent
// re-orders of the same order get distinct counts.
func (t txQueries) CountReorders(ctx context.Context, originID string) (int, error) {
	if _, err := t.q.Exec(ctx, SlotLockSQL, "reorder:"+originID); err != nil {
		return 0, err
	}
	var n int
	err := t.q.QueryRow(ctx, CountReordersSQL, originID).Scan(&n)
	return n, err
}

func (r *OrderRepository) CountContending(ctx context.Context, deliveryTime time.Time, tables []string) (int, error) {
	n, err := txQueries{r.db.Pool}.CountContending(ctx, deliveryTime, tables)
	return n, wrap("database.CountContending", err)
}

func (r *OrderRepository) CountReorders(ctx context.Context, originID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, CountReordersSQL, originID).Scan(&n)
	return n, wrap("database.CountReorders", err)
}

// Insert locks every (table, deliveryTime) slot of o in sorted key order,
// runs prepare against the same transaction and inserts the order with its
// first status log row.
func (r *OrderRepository) Insert(ctx context.Context, o *models.Order, prepare func(ctx context.Context, q store.OrderQueries) error) error {
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, key := range waitlist.SlotKeys(o.DeliveryTime, o.Table) {
			if _, err := tx.Exec(ctx, SlotLockSQL, key); err != nil {
				return fmt.Errorf("lock slot %s: %w", key, err)
			}
		}
		if prepare != nil {
			if err := prepare(ctx, txQueries{tx}); err != nil {
				return err
			}
		}

		args, err := orderArgs(o)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, InsertOrderSQL, args...); err != nil {
			if isUniqueViolation(err, "orders_number_key") {
				return store.ErrDuplicateNumber
			}
			return err
		}
		_, err = tx.Exec(ctx, InsertOrderStatusLogSQL, o.ID, o.OrderStatus, o.Actor(), o.CreatedAt, nil)
		return err
	})
	return wrap("database.Insert", err)
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, GetOrderSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrOrderNotFound
	}
	return o, wrap("database.Get", err)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, GetOrderByNumberSQL, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrOrderNotFound
	}
	return o, wrap("database.GetByNumber", err)
}

func (r *OrderRepository) Update(ctx context.Context, o *models.Order, expectedVersion int) error {
	next := o.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()

	args, err := orderArgs(next)
	if err != nil {
		return wrap("database.Update", err)
	}
	tag, err := r.db.Pool.Exec(ctx, UpdateOrderSQL, append(args, expectedVersion)...)
	if err != nil {
		return wrap("database.Update", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, OrderExistsSQL, o.ID).Scan(&exists); err != nil {
			return wrap("database.Update", err)
		}
		if !exists {
			return apperr.ErrOrderNotFound
		}
		return apperr.ErrStaleVersion
	}

	o.Version = next.Version
	o.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, mutate func(o *models.Order) (models.StatusChange, error)) (*models.Order, models.StatusChange, error) {
	var (
		result *models.Order
		change models.StatusChange
	)
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanOrder(tx.QueryRow(ctx, GetOrderForUpdateSQL, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		o := cur.Clone()
		change, err = mutate(o)
		if err != nil {
			return err
		}
		if !change.Changed {
			result = cur
			return nil
		}

		now := time.Now().UTC()
		o.Version = cur.Version + 1
		o.UpdatedAt = now
		args, err := orderArgs(o)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, UpdateOrderSQL, append(args, cur.Version)...); err != nil {
			return err
		}

		var note *string
		if change.Note != "" {
			note = &change.Note
		}
		if _, err := tx.Exec(ctx, InsertOrderStatusLogSQL, o.ID, change.To, change.ChangedBy, now, note); err != nil {
			return err
		}
		if change.EnqueueCompletion {
			if _, err := tx.Exec(ctx, InsertTaskSQL, o.ID, o.Number, o.Restaurant, now); err != nil {
				return fmt.Errorf("insert completion task: %w", err)
			}
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, change, wrap("database.UpdateStatus", err)
	}
	return result, change, nil
}

func (r *OrderRepository) Delete(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, DeleteOrderSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrOrderNotFound
	}
	return o, wrap("database.Delete", err)
}

func (r *OrderRepository) ListByRestaurant(ctx context.Context, restaurantID string, statuses []models.OrderStatus) ([]*models.Order, error) {
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	orders, err := r.list(ctx, ListOrdersByRestaurantSQL, restaurantID, filter)
	return orders, wrap("database.ListByRestaurant", err)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	orders, err := r.list(ctx, ListOrdersByUserSQL, userID)
	return orders, wrap("database.ListByUser", err)
}

func (r *OrderRepository) list(ctx context.Context, sql string, args ...interface{}) ([]*models.Order, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OrderRepository) History(ctx context.Context, orderID string) ([]models.StatusHistory, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, OrderExistsSQL, orderID).Scan(&exists); err != nil {
		return nil, wrap("database.History", err)
	}
	if !exists {
		return nil, apperr.ErrOrderNotFound
	}

	rows, err := r.db.Query(ctx, GetOrderStatusHistorySQL, orderID)
	if err != nil {
		return nil, wrap("database.History", err)
	}
	defer rows.Close()

	var history []models.StatusHistory
	for rows.Next() {
		var h models.StatusHistory
		if err := rows.Scan(&h.Status, &h.ChangedBy, &h.ChangedAt, &h.Notes); err != nil {
			return nil, wrap("database.History", err)
		}
		history = append(history, h)
	}
	return history, wrap("database.History", rows.Err())
}

// orderArgs flattens o into the orderColumns order.
func orderArgs(o *models.Order) ([]interface{}, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	price, err := json.Marshal(o.Price)
	if err != nil {
		return nil, fmt.Errorf("marshal price: %w", err)
	}

	var reorderOf *string
	reorderCount := 0
	if o.ReOrder != nil {
		reorderOf = &o.ReOrder.OrderID
		reorderCount = o.ReOrder.Count
	}

	return []interface{}{
		o.ID, o.Number, o.Customer, o.Staff, nonNilStrings(o.Guests), o.Restaurant, string(o.Category),
		string(o.OrderType), string(o.OrderFrom), string(o.PaymentType), string(o.PaymentMethod),
		items, price, o.EstimatedTime,
		string(o.OrderStatus), o.Status, o.PreparationTime.Start, o.PreparationTime.End,
		o.WaitingList, nonNilStrings(o.Table),
		reorderOf, reorderCount, o.DeliveryTime.UTC(), o.Visitors, o.Instructions, o.Coupon,
		o.Version, o.CreatedAt, o.UpdatedAt,
	}, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o            models.Order
		items, price []byte
		reorderOf    *string
		reorderCount int
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Customer, &o.Staff, &o.Guests, &o.Restaurant, &o.Category,
		&o.OrderType, &o.OrderFrom, &o.PaymentType, &o.PaymentMethod,
		&items, &price, &o.EstimatedTime,
		&o.OrderStatus, &o.Status, &o.PreparationTime.Start, &o.PreparationTime.End,
		&o.WaitingList, &o.Table,
		&reorderOf, &reorderCount, &o.DeliveryTime, &o.Visitors, &o.Instructions, &o.Coupon,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	if err := json.Unmarshal(price, &o.Price); err != nil {
		return nil, fmt.Errorf("decode price of order %s: %w", o.ID, err)
	}
	if reorderOf != nil {
		o.ReOrder = &models.ReOrder{OrderID: *reorderOf, Count: reorderCount}
	}
	if len(o.Table) == 0 {
		o.Table = nil
	}
	o.DeliveryTime = o.DeliveryTime.UTC()
	return &o, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

// wrap passes classified errors through and marks everything else as a
// database failure.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) || errors.Is(err, store.ErrDuplicateNumber) || errors.Is(err, apperr.ErrAlreadyApplied) {
		return err
	}
	return apperr.Dependency(op, err)
}
