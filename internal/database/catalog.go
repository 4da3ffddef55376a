package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

// CatalogRepository reads restaurants, menu items, combos and taxes.
type CatalogRepository struct {
	db *DB
}

func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) Restaurant(ctx context.Context, id string) (models.Restaurant, error) {
	var rest models.Restaurant
	err := r.db.QueryRow(ctx, GetRestaurantSQL, id).Scan(&rest.ID, &rest.Name, &rest.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Restaurant{}, apperr.ErrRestaurantNotFound
	}
	return rest, wrap("database.Restaurant", err)
}

// MenuItems returns the found items keyed by id. Missing ids are absent
// from the map.
func (r *CatalogRepository) MenuItems(ctx context.Context, ids []string) (map[string]models.MenuItem, error) {
	out := make(map[string]models.MenuItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, GetMenuItemsSQL, ids)
	if err != nil {
		return nil, wrap("database.MenuItems", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m           models.MenuItem
			ingredients []byte
		)
		if err := rows.Scan(&m.ID, &m.Restaurant, &m.Name, &m.NonVeg, &m.EstimatedTime, &ingredients); err != nil {
			return nil, wrap("database.MenuItems", err)
		}
		if err := json.Unmarshal(ingredients, &m.Ingredients); err != nil {
			return nil, apperr.Invariant("database.MenuItems", fmt.Sprintf("menu item %s has malformed ingredients: %v", m.ID, err))
		}
		out[m.ID] = m
	}
	return out, wrap("database.MenuItems", rows.Err())
}

func (r *CatalogRepository) Combos(ctx context.Context, ids []string) (map[string]models.Combo, error) {
	out := make(map[string]models.Combo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, GetCombosSQL, ids)
	if err != nil {
		return nil, wrap("database.Combos", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c     models.Combo
			items []byte
		)
		if err := rows.Scan(&c.ID, &c.Restaurant, &c.Name, &items); err != nil {
			return nil, wrap("database.Combos", err)
		}
		if err := json.Unmarshal(items, &c.Items); err != nil {
			return nil, apperr.Invariant("database.Combos", fmt.Sprintf("combo %s has malformed items: %v", c.ID, err))
		}
		out[c.ID] = c
	}
	return out, wrap("database.Combos", rows.Err())
}

func (r *CatalogRepository) TaxRate(ctx context.Context, restaurantID string) (models.Tax, bool, error) {
	var (
		t    models.Tax
		rate string
	)
	err := r.db.QueryRow(ctx, GetTaxRateSQL, restaurantID).Scan(&t.Restaurant, &rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tax{}, false, nil
	}
	if err != nil {
		return models.Tax{}, false, wrap("database.TaxRate", err)
	}
	t.Rate, err = decimal.NewFromString(rate)
	if err != nil {
		return models.Tax{}, false, apperr.Invariant("database.TaxRate", "malformed tax rate "+rate)
	}
	return t, true, nil
}
