package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/store"
)

// Catalog

func (s *Store) Restaurant(_ context.Context, id string) (models.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.restaurants[id]
	if !ok {
		return models.Restaurant{}, apperr.ErrRestaurantNotFound
	}
	return r, nil
}

func (s *Store) MenuItems(_ context.Context, ids []string) (map[string]models.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.MenuItem, len(ids))
	for _, id := range ids {
		if m, ok := s.menu[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (s *Store) Combos(_ context.Context, ids []string) (map[string]models.Combo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Combo, len(ids))
	for _, id := range ids {
		if c, ok := s.combos[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *Store) TaxRate(_ context.Context, restaurantID string) (models.Tax, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.taxes[restaurantID]
	return t, ok, nil
}

// Apply deducts stock for an order once. All rows are checked before any is
// written.
func (s *Store) Apply(_ context.Context, orderID, restaurantID string, deductions []models.Deduction) ([]models.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deductions[orderID] {
		return nil, apperr.ErrAlreadyApplied
	}
	for _, d := range deductions {
		if _, ok := s.inventory[inventoryKey(restaurantID, d.Ingredient)]; !ok {
			return nil, apperr.NotFound("memory.Apply", fmt.Sprintf("inventory item %s not found", d.Ingredient))
		}
	}

	levels := make([]models.StockLevel, 0, len(deductions))
	for _, d := range deductions {
		key := inventoryKey(restaurantID, d.Ingredient)
		item := s.inventory[key]
		item.Quantity.Magnitude = item.Quantity.Magnitude.Sub(d.Amount)
		s.inventory[key] = item
		levels = append(levels, models.StockLevel{Ingredient: d.Ingredient, Quantity: item.Quantity})
	}
	s.deductions[orderID] = true
	return levels, nil
}

func (s *Store) CreateOnce(_ context.Context, inv models.Invoice) (models.Invoice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.invoices[inv.Order]; ok {
		return existing, false, nil
	}
	s.invoices[inv.Order] = inv
	return inv, true, nil
}

func (s *Store) Credit(_ context.Context, orderID string, awards []models.LoyaltyAward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awarded[orderID] {
		return apperr.ErrAlreadyApplied
	}
	for _, a := range awards {
		s.balances[a.UserID] += a.Points
	}
	s.awarded[orderID] = true
	return nil
}

// Tasks

func (s *Store) Task(_ context.Context, orderID string) (store.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[orderID]
	if !ok {
		return store.TaskRecord{}, apperr.NotFound("memory.Task", "task for order "+orderID+" not found")
	}
	rec := *t
	rec.Effects = make(map[string]store.EffectRecord, len(t.Effects))
	for name, e := range t.Effects {
		rec.Effects[name] = e
	}
	return rec, nil
}

func (s *Store) RecordEffect(_ context.Context, orderID, effect string, effErr error, maxAttempts int) (store.EffectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[orderID]
	if !ok {
		return store.EffectRecord{}, apperr.NotFound("memory.RecordEffect", "task for order "+orderID+" not found")
	}
	if t.Effects == nil {
		t.Effects = make(map[string]store.EffectRecord)
	}

	e := t.Effect(effect)
	switch {
	case effErr == nil:
		e.State = store.TaskDone
		e.LastError = ""
	case e.State != store.TaskPending:
		return e, nil
	default:
		e.Attempts++
		e.LastError = effErr.Error()
		if e.Attempts >= maxAttempts {
			e.State = store.TaskFailed
		}
	}
	t.Effects[effect] = e
	t.UpdatedAt = s.now().UTC()
	return e, nil
}

func (s *Store) Complete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[orderID]
	if !ok {
		return apperr.NotFound("memory.Complete", "task for order "+orderID+" not found")
	}
	t.State = store.TaskDone
	t.LastError = ""
	t.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) Park(_ context.Context, orderID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[orderID]
	if !ok {
		return apperr.NotFound("memory.Park", "task for order "+orderID+" not found")
	}
	t.State = store.TaskFailed
	t.LastError = reason
	t.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) Stale(_ context.Context, before time.Time, limit int) ([]models.CompletionTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CompletionTask
	for _, t := range s.tasks {
		if t.State == store.TaskPending && t.UpdatedAt.Before(before) {
			out = append(out, t.Task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Touch(_ context.Context, orderIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, id := range orderIDs {
		if t, ok := s.tasks[id]; ok {
			t.UpdatedAt = now
		}
	}
	return nil
}
