package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/store"
)

// TaskRepository is the fulfillment outbox.
type TaskRepository struct {
	db *DB
}

func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Task(ctx context.Context, orderID string) (store.TaskRecord, error) {
	var rec store.TaskRecord
	err := r.db.QueryRow(ctx, GetTaskSQL, orderID).Scan(
		&rec.Task.OrderID, &rec.Task.OrderNumber, &rec.Task.RestaurantID, &rec.Task.EnqueuedAt,
		&rec.State, &rec.LastError, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.TaskRecord{}, apperr.NotFound("database.Task", "task for order "+orderID+" not found")
	}
	if err != nil {
		return store.TaskRecord{}, wrap("database.Task", err)
	}

	rows, err := r.db.Query(ctx, ListEffectsSQL, orderID)
	if err != nil {
		return store.TaskRecord{}, wrap("database.Task", err)
	}
	defer rows.Close()

	rec.Effects = make(map[string]store.EffectRecord)
	for rows.Next() {
		var (
			name string
			e    store.EffectRecord
		)
		if err := rows.Scan(&name, &e.State, &e.Attempts, &e.LastError); err != nil {
			return store.TaskRecord{}, wrap("database.Task", err)
		}
		rec.Effects[name] = e
	}
	return rec, wrap("database.Task", rows.Err())
}

// RecordEffect upserts the effect row. Attempts are counted in the UPDATE
// itself so concurrent deliveries never lose one.
func (r *TaskRepository) RecordEffect(ctx context.Context, orderID, effect string, effErr error, maxAttempts int) (store.EffectRecord, error) {
	var e store.EffectRecord
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, TaskExistsSQL, orderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("database.RecordEffect", "task for order "+orderID+" not found")
		}

		var row pgx.Row
		if effErr == nil {
			row = tx.QueryRow(ctx, EffectDoneSQL, orderID, effect)
		} else {
			row = tx.QueryRow(ctx, EffectFailedSQL, orderID, effect, effErr.Error(), maxAttempts)
		}
		err := row.Scan(&e.State, &e.Attempts, &e.LastError)
		if errors.Is(err, pgx.ErrNoRows) {
			err = tx.QueryRow(ctx, GetEffectSQL, orderID, effect).Scan(&e.State, &e.Attempts, &e.LastError)
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, TouchTaskSQL, orderID)
		return err
	})
	if err != nil {
		return store.EffectRecord{}, wrap("database.RecordEffect", err)
	}
	return e, nil
}

func (r *TaskRepository) Complete(ctx context.Context, orderID string) error {
	tag, err := r.db.Pool.Exec(ctx, CompleteTaskSQL, orderID)
	if err != nil {
		return wrap("database.Complete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("database.Complete", "task for order "+orderID+" not found")
	}
	return nil
}

func (r *TaskRepository) Park(ctx context.Context, orderID, reason string) error {
	tag, err := r.db.Pool.Exec(ctx, ParkTaskSQL, orderID, reason)
	if err != nil {
		return wrap("database.Park", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("database.Park", "task for order "+orderID+" not found")
	}
	return nil
}

func (r *TaskRepository) Stale(ctx context.Context, before time.Time, limit int) ([]models.CompletionTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, StaleTasksSQL, before, limit)
	if err != nil {
		return nil, wrap("database.Stale", err)
	}
	defer rows.Close()

	var out []models.CompletionTask
	for rows.Next() {
		var t models.CompletionTask
		if err := rows.Scan(&t.OrderID, &t.OrderNumber, &t.RestaurantID, &t.EnqueuedAt); err != nil {
			return nil, wrap("database.Stale", err)
		}
		out = append(out, t)
	}
	return out, wrap("database.Stale", rows.Err())
}

func (r *TaskRepository) Touch(ctx context.Context, orderIDs ...string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	return wrap("database.Touch", r.db.Exec(ctx, TouchTasksSQL, orderIDs))
}
