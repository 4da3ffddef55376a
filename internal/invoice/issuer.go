// Package invoice issues the single invoice of a completed order.
package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

// Registry stores invoices under a uniqueness constraint on the order.
// CreateOnce returns the stored invoice and whether this call created it.
type Registry interface {
	CreateOnce(ctx context.Context, inv models.Invoice) (models.Invoice, bool, error)
}

type Issuer struct {
	registry Registry
	now      func() time.Time
}

func NewIssuer(registry Registry) *Issuer {
	return &Issuer{registry: registry, now: time.Now}
}

// Issue creates the order's invoice unless one exists already.
func (i *Issuer) Issue(ctx context.Context, o *models.Order) (models.Invoice, bool, error) {
	inv := models.Invoice{
		ID:         uuid.NewString(),
		Customer:   o.Customer,
		Restaurant: o.Restaurant,
		Order:      o.ID,
		CreatedAt:  i.now().UTC(),
	}
	stored, created, err := i.registry.CreateOnce(ctx, inv)
	if err != nil {
		return models.Invoice{}, false, apperr.Dependency("invoice.Issue", err)
	}
	return stored, created, nil
}
