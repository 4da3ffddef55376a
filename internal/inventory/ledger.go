// Package inventory deducts ingredient stock for completed orders.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
)

// Catalog resolves menu items and combos referenced by an order.
type Catalog interface {
	MenuItems(ctx context.Context, ids []string) (map[string]models.MenuItem, error)
	Combos(ctx context.Context, ids []string) (map[string]models.Combo, error)
}

// Adjuster decrements stock in place. Apply must be atomic per order: either
// every deduction lands or none does, and a second call for the same order
// returns apperr.ErrAlreadyApplied without touching stock.
type Adjuster interface {
	Apply(ctx context.Context, orderID, restaurantID string, deductions []models.Deduction) ([]models.StockLevel, error)
}

// LowStockWarning flags an ingredient whose stock went below zero.
type LowStockWarning struct {
	Ingredient string          `json:"ingredient"`
	Remaining  models.Quantity `json:"remaining"`
}

// Result is the outcome of a deduction.
type Result struct {
	Deductions     []models.Deduction
	Levels         []models.StockLevel
	Warnings       []LowStockWarning
	AlreadyApplied bool
}

type Ledger struct {
	catalog  Catalog
	adjuster Adjuster
	log      *logger.Logger
}

func NewLedger(catalog Catalog, adjuster Adjuster, log *logger.Logger) *Ledger {
	return &Ledger{catalog: catalog, adjuster: adjuster, log: log}
}

// Plan expands combos and aggregates ingredient usage for the order.
// Deductions are sorted by ingredient name.
func (l *Ledger) Plan(ctx context.Context, o *models.Order) ([]models.Deduction, error) {
	// menu item id -> ordered count, after combo expansion
	counts := make(map[string]int64)
	var comboIDs []string
	for _, item := range o.Items {
		if item.Combo != "" {
			comboIDs = append(comboIDs, item.Combo)
			continue
		}
		counts[item.Item] += int64(item.Quantity)
	}

	if len(comboIDs) > 0 {
		combos, err := l.catalog.Combos(ctx, comboIDs)
		if err != nil {
			return nil, apperr.Dependency("inventory.Plan", err)
		}
		for _, item := range o.Items {
			if item.Combo == "" {
				continue
			}
			combo, ok := combos[item.Combo]
			if !ok {
				return nil, apperr.NotFound("inventory.Plan", "combo "+item.Combo+" not found")
			}
			for _, entry := range combo.Items {
				qty := entry.Quantity
				if qty <= 0 {
					qty = 1
				}
				counts[entry.MenuItem] += int64(qty) * int64(item.Quantity)
			}
		}
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	menu, err := l.catalog.MenuItems(ctx, ids)
	if err != nil {
		return nil, apperr.Dependency("inventory.Plan", err)
	}

	usage := make(map[string]decimal.Decimal)
	for _, id := range ids {
		mi, ok := menu[id]
		if !ok {
			return nil, apperr.NotFound("inventory.Plan", "menu item "+id+" not found")
		}
		ordered := decimal.NewFromInt(counts[id])
		for _, ing := range mi.Ingredients {
			usage[ing.Item] = usage[ing.Item].Add(ing.Quantity.Mul(ordered))
		}
	}

	deductions := make([]models.Deduction, 0, len(usage))
	for name, amount := range usage {
		if amount.IsZero() {
			continue
		}
		deductions = append(deductions, models.Deduction{Ingredient: name, Amount: amount})
	}
	sort.Slice(deductions, func(i, j int) bool {
		return deductions[i].Ingredient < deductions[j].Ingredient
	})
	return deductions, nil
}

// Deduct applies the order's ingredient usage to stock. Running it twice for
// the same order deducts once; the second result has AlreadyApplied set.
func (l *Ledger) Deduct(ctx context.Context, o *models.Order) (*Result, error) {
	deductions, err := l.Plan(ctx, o)
	if err != nil {
		return nil, err
	}
	res := &Result{Deductions: deductions}

	levels, err := l.adjuster.Apply(ctx, o.ID, o.Restaurant, deductions)
	if errors.Is(err, apperr.ErrAlreadyApplied) {
		res.AlreadyApplied = true
		return res, nil
	}
	if err != nil {
		if apperr.KindOf(err) != "" {
			return nil, err
		}
		return nil, apperr.Dependency("inventory.Deduct", err)
	}

	res.Levels = levels
	for _, lvl := range levels {
		if lvl.Quantity.Magnitude.IsNegative() {
			w := LowStockWarning{Ingredient: lvl.Ingredient, Remaining: lvl.Quantity}
			res.Warnings = append(res.Warnings, w)
			l.log.Warn("low_stock", fmt.Sprintf("ingredient %s below zero", lvl.Ingredient), logger.RequestID(ctx), map[string]interface{}{
				"order_id":      o.ID,
				"restaurant_id": o.Restaurant,
				"remaining":     lvl.Quantity.String(),
			})
		}
	}
	return res, nil
}
