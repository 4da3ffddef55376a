// Package waitlist computes the queue position of a dine-in booking among
// orders that share its delivery time and at least one table.
package waitlist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/config"
)

// Counter counts live orders contending for a slot. Implementations run
// inside the transaction that inserts the new order, after the slot locks
// from SlotKeys have been taken.
type Counter interface {
	CountContending(ctx context.Context, deliveryTime time.Time, tables []string) (int, error)
}

type Estimator struct {
	serviceMinutes int
}

func NewEstimator(cfg config.WaitlistConfig) *Estimator {
	minutes := cfg.ServiceMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return &Estimator{serviceMinutes: minutes}
}

// Count returns the waiting-list snapshot for a new order. Orders without
// tables never wait.
func (e *Estimator) Count(ctx context.Context, q Counter, deliveryTime time.Time, tables []string) (int, error) {
	tables = Normalize(tables)
	if len(tables) == 0 {
		return 0, nil
	}

	n, err := q.CountContending(ctx, Slot(deliveryTime), tables)
	if err != nil {
		return 0, fmt.Errorf("count contending orders: %w", err)
	}
	if n < 0 {
		return 0, apperr.Invariant("waitlist.Count", fmt.Sprintf("negative contending count %d", n))
	}
	return n, nil
}

// EstimatedWait converts a waiting-list position into minutes.
func (e *Estimator) EstimatedWait(waitingList int) int {
	return waitingList * e.serviceMinutes
}

// Slot normalises a delivery time to what timestamptz stores: UTC with
// microsecond precision. Slot keys and equality on stored rows both use it.
func Slot(deliveryTime time.Time) time.Time {
	return deliveryTime.UTC().Truncate(time.Microsecond)
}

// Normalize drops empty and duplicate table ids and sorts the rest.
func Normalize(tables []string) []string {
	seen := make(map[string]struct{}, len(tables))
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SlotKeys returns one lock key per (table, deliveryTime) in a stable order,
// so concurrent submissions touching overlapping tables lock without
// deadlocking.
func SlotKeys(deliveryTime time.Time, tables []string) []string {
	tables = Normalize(tables)
	keys := make([]string, len(tables))
	ts := Slot(deliveryTime).Format(time.RFC3339Nano)
	for i, t := range tables {
		keys[i] = "waitlist:" + t + ":" + ts
	}
	return keys
}
