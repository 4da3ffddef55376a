// Package tax resolves the tax rate that applies to a restaurant's orders.
package tax

import (
	"context"

	"github.com/shopspring/decimal"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

// Lookup finds the single tax record of a restaurant.
type Lookup interface {
	TaxRate(ctx context.Context, restaurantID string) (models.Tax, bool, error)
}

// Resolver returns tax rates as percentages.
type Resolver struct {
	lookup Lookup
}

func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Rate returns the restaurant's tax rate, or zero when it has no tax record.
func (r *Resolver) Rate(ctx context.Context, restaurantID string) (decimal.Decimal, error) {
	t, ok, err := r.lookup.TaxRate(ctx, restaurantID)
	if err != nil {
		return decimal.Zero, apperr.Dependency("tax.Rate", err)
	}
	if !ok {
		return decimal.Zero, nil
	}
	if t.Rate.IsNegative() {
		return decimal.Zero, apperr.Invariant("tax.Rate", "negative tax rate for restaurant "+restaurantID)
	}
	return t.Rate, nil
}
