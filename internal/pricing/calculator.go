// Package pricing turns a cart of line items into item, guest and order
// totals. All arithmetic is decimal and the calculator holds no state, so
// pricing the same cart twice yields identical results.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/config"
	"restaurant-orders/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Breakdown is the pre-tax result of pricing a cart.
type Breakdown struct {
	Items         []models.LineItem
	Subtotal      decimal.Decimal
	Addon         decimal.Decimal
	Total         decimal.Decimal
	EstimatedTime int
}

// Calculator prices carts.
type Calculator struct {
	pointsPerUnit decimal.Decimal
}

// NewCalculator creates a calculator from the pricing configuration.
func NewCalculator(cfg config.PricingConfig) (*Calculator, error) {
	ppu := decimal.Zero
	if cfg.PointsPerUnit != "" {
		var err error
		ppu, err = decimal.NewFromString(cfg.PointsPerUnit)
		if err != nil {
			return nil, fmt.Errorf("invalid pricing.points_per_unit: %w", err)
		}
	}
	if ppu.IsNegative() {
		return nil, fmt.Errorf("pricing.points_per_unit must not be negative")
	}
	return &Calculator{pointsPerUnit: ppu}, nil
}

// PriceItems computes per-item and per-guest totals and the order-level
// pre-tax sums. The input slice is not modified.
func (c *Calculator) PriceItems(items []models.LineItem) Breakdown {
	b := Breakdown{
		Items:    make([]models.LineItem, len(items)),
		Subtotal: decimal.Zero,
		Addon:    decimal.Zero,
	}

	for i, item := range items {
		priced := item
		qty := decimal.NewFromInt(int64(item.Quantity))
		itemPrice := item.Price.Mul(qty)
		addonPrice := decimal.Zero

		priced.Customers = make([]models.GuestAllocation, len(item.Customers))
		for j, guest := range item.Customers {
			g := guest
			g.Addons = append([]models.Addon(nil), guest.Addons...)

			guestAddons := addonsTotal(guest.Addons)
			addonPrice = addonPrice.Add(guestAddons)
			g.TotalPrice = guestAddons.Add(item.Price.Mul(decimal.NewFromInt(int64(guest.Quantity))))
			priced.Customers[j] = g
		}
		if len(item.Customers) == 0 {
			priced.Customers = nil
		}

		priced.TotalPrice = models.ItemTotals{
			ItemPrice:  itemPrice,
			AddonPrice: addonPrice,
			Total:      itemPrice.Add(addonPrice),
		}
		b.Items[i] = priced

		b.Subtotal = b.Subtotal.Add(itemPrice)
		b.Addon = b.Addon.Add(addonPrice)
		b.EstimatedTime += item.EstimatedTime * item.Quantity
	}

	b.Total = b.Subtotal.Add(b.Addon)
	return b
}

func addonsTotal(addons []models.Addon) decimal.Decimal {
	total := decimal.Zero
	for _, a := range addons {
		total = total.Add(a.Price.Mul(decimal.NewFromInt(int64(a.Quantity))))
	}
	return total
}

// Finalize applies the tax rate (a percentage) and the tip to a breakdown.
// Tax is rounded to two places before it is added, so the total always
// equals subtotal + addon + tax + tip exactly.
func (c *Calculator) Finalize(b Breakdown, rate, tip decimal.Decimal) models.Price {
	total := b.Total
	tax := total.Mul(rate).Div(hundred).Round(2)
	total = total.Add(tax)
	total = total.Add(tip)

	return models.Price{
		Subtotal: b.Subtotal,
		Addon:    b.Addon,
		Tax:      tax,
		Tip:      tip,
		Total:    total,
		Points:   total.Mul(c.pointsPerUnit).Floor().IntPart(),
	}
}

// Apply prices items into the order and fills its price and estimated time.
func (c *Calculator) Apply(o *models.Order, rate, tip decimal.Decimal) {
	b := c.PriceItems(o.Items)
	o.Items = b.Items
	o.Price = c.Finalize(b, rate, tip)
	o.EstimatedTime = b.EstimatedTime
}

// Verify checks the pricing invariants of an order. A failure means the
// stored or computed totals are corrupt.
func Verify(o *models.Order) error {
	subtotal, addon := decimal.Zero, decimal.Zero
	for i, item := range o.Items {
		t := item.TotalPrice
		if !t.Total.Equal(t.ItemPrice.Add(t.AddonPrice)) {
			return apperr.Invariant("pricing.Verify",
				fmt.Sprintf("items[%d]: total %s != itemPrice %s + addonPrice %s", i, t.Total, t.ItemPrice, t.AddonPrice))
		}
		subtotal = subtotal.Add(t.ItemPrice)
		addon = addon.Add(t.AddonPrice)
	}

	p := o.Price
	if !p.Subtotal.Equal(subtotal) {
		return apperr.Invariant("pricing.Verify", fmt.Sprintf("subtotal %s != sum of item prices %s", p.Subtotal, subtotal))
	}
	if !p.Addon.Equal(addon) {
		return apperr.Invariant("pricing.Verify", fmt.Sprintf("addon %s != sum of addon prices %s", p.Addon, addon))
	}
	if want := p.Subtotal.Add(p.Addon).Add(p.Tax).Add(p.Tip); !p.Total.Equal(want) {
		return apperr.Invariant("pricing.Verify", fmt.Sprintf("total %s != subtotal + addon + tax + tip %s", p.Total, want))
	}
	return nil
}
