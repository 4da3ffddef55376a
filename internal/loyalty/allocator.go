// Package loyalty distributes an order's reward points across its guests
// when the bill is split.
package loyalty

import (
	"context"
	"errors"
	"sort"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

// Creditor adds points to user balances. Credit must be idempotent per
// order and return apperr.ErrAlreadyApplied on a repeat.
type Creditor interface {
	Credit(ctx context.Context, orderID string, awards []models.LoyaltyAward) error
}

// Split divides points across guests. Every guest gets points/n and the
// remainder is handed out one point each to the first guests in sorted id
// order, so the awards always sum to points.
func Split(points int64, guests []string) []models.LoyaltyAward {
	ids := unique(guests)
	if len(ids) == 0 || points <= 0 {
		return nil
	}

	n := int64(len(ids))
	base, rem := points/n, points%n
	awards := make([]models.LoyaltyAward, len(ids))
	for i, id := range ids {
		p := base
		if int64(i) < rem {
			p++
		}
		awards[i] = models.LoyaltyAward{UserID: id, Points: p}
	}
	return awards
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type Allocator struct {
	creditor Creditor
}

func NewAllocator(creditor Creditor) *Allocator {
	return &Allocator{creditor: creditor}
}

// Allocate credits split-payment orders. It returns the awards it applied;
// nil means there was nothing to do or the order was credited before.
func (a *Allocator) Allocate(ctx context.Context, o *models.Order) ([]models.LoyaltyAward, error) {
	if o.PaymentType != models.PaymentSplit {
		return nil, nil
	}
	awards := Split(o.Price.Points, o.Guests)
	if len(awards) == 0 {
		return nil, nil
	}

	err := a.creditor.Credit(ctx, o.ID, awards)
	if errors.Is(err, apperr.ErrAlreadyApplied) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Dependency("loyalty.Allocate", err)
	}
	return awards, nil
}
