package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

// EffectRepository applies the completion side effects. Each effect is
// guarded by a row keyed on the order id, so a redelivered task is a no-op.
type EffectRepository struct {
	db *DB
}

func NewEffectRepository(db *DB) *EffectRepository {
	return &EffectRepository{db: db}
}

// Apply decrements every ingredient in place in one transaction. A missing
// inventory row rolls the whole deduction back.
func (r *EffectRepository) Apply(ctx context.Context, orderID, restaurantID string, deductions []models.Deduction) ([]models.StockLevel, error) {
	var levels []models.StockLevel
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		marker, err := json.Marshal(deductions)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, InsertDeductionMarkerSQL, orderID, marker)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrAlreadyApplied
		}

		levels = make([]models.StockLevel, 0, len(deductions))
		for _, d := range deductions {
			var qty, unit string
			err := tx.QueryRow(ctx, DeductInventorySQL, restaurantID, d.Ingredient, d.Amount.String()).Scan(&qty, &unit)
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("database.Apply", fmt.Sprintf("inventory item %s not found", d.Ingredient))
			}
			if err != nil {
				return err
			}
			q, err := models.ParseQuantity(strings.TrimSpace(qty + " " + unit))
			if err != nil {
				return apperr.Invariant("database.Apply", err.Error())
			}
			levels = append(levels, models.StockLevel{Ingredient: d.Ingredient, Quantity: q})
		}
		return nil
	})
	if err != nil {
		return nil, wrap("database.Apply", err)
	}
	return levels, nil
}

// CreateOnce inserts inv unless the order already has an invoice, in which
// case the existing one is returned with created false.
func (r *EffectRepository) CreateOnce(ctx context.Context, inv models.Invoice) (models.Invoice, bool, error) {
	var out models.Invoice
	err := r.db.QueryRow(ctx, InsertInvoiceSQL, inv.ID, inv.Order, inv.Customer, inv.Restaurant, inv.CreatedAt).
		Scan(&out.ID, &out.Order, &out.Customer, &out.Restaurant, &out.CreatedAt)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Invoice{}, false, wrap("database.CreateOnce", err)
	}

	err = r.db.QueryRow(ctx, GetInvoiceByOrderSQL, inv.Order).
		Scan(&out.ID, &out.Order, &out.Customer, &out.Restaurant, &out.CreatedAt)
	if err != nil {
		return models.Invoice{}, false, wrap("database.CreateOnce", err)
	}
	return out, false, nil
}

func (r *EffectRepository) Credit(ctx context.Context, orderID string, awards []models.LoyaltyAward) error {
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		marker, err := json.Marshal(awards)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, InsertLoyaltyMarkerSQL, orderID, marker)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrAlreadyApplied
		}
		for _, a := range awards {
			if _, err := tx.Exec(ctx, CreditLoyaltySQL, a.UserID, a.Points); err != nil {
				return fmt.Errorf("credit %s: %w", a.UserID, err)
			}
		}
		return nil
	})
	return wrap("database.Credit", err)
}
