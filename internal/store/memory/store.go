// Package memory is an in-process implementation of the store ports and of
// the fulfillment effect registries. It backs the service tests and local
// runs without PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/store"
)

// Store keeps every entity in maps guarded by one mutex. A single lock makes
// each method behave like a serializable transaction.
type Store struct {
	mu sync.RWMutex

	orders  map[string]*models.Order
	numbers map[string]string
	history map[string][]models.StatusHistory
	tasks   map[string]*store.TaskRecord

	restaurants map[string]models.Restaurant
	menu        map[string]models.MenuItem
	combos      map[string]models.Combo
	taxes       map[string]models.Tax

	inventory  map[string]models.InventoryItem // restaurant|name
	deductions map[string]bool
	invoices   map[string]models.Invoice // by order
	balances   map[string]int64
	awarded    map[string]bool

	now func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		orders:      make(map[string]*models.Order),
		numbers:     make(map[string]string),
		history:     make(map[string][]models.StatusHistory),
		tasks:       make(map[string]*store.TaskRecord),
		restaurants: make(map[string]models.Restaurant),
		menu:        make(map[string]models.MenuItem),
		combos:      make(map[string]models.Combo),
		taxes:       make(map[string]models.Tax),
		inventory:   make(map[string]models.InventoryItem),
		deductions:  make(map[string]bool),
		invoices:    make(map[string]models.Invoice),
		balances:    make(map[string]int64),
		awarded:     make(map[string]bool),
		now:         time.Now,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Seeding helpers

func (s *Store) AddRestaurant(r models.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants[r.ID] = r
}

func (s *Store) AddMenuItem(m models.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menu[m.ID] = m
}

func (s *Store) AddCombo(c models.Combo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.combos[c.ID] = c
}

func (s *Store) SetTax(t models.Tax) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxes[t.Restaurant] = t
}

func (s *Store) DeleteTax(restaurantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.taxes, restaurantID)
}

func (s *Store) AddInventory(item models.InventoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[inventoryKey(item.Restaurant, item.Name)] = item
}

// Stock returns the current quantity of an ingredient.
func (s *Store) Stock(restaurantID, name string) (models.Quantity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.inventory[inventoryKey(restaurantID, name)]
	return item.Quantity, ok
}

// Invoices returns every stored invoice.
func (s *Store) Invoices() []models.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, inv)
	}
	return out
}

// Balance returns a user's loyalty points.
func (s *Store) Balance(userID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID]
}

func inventoryKey(restaurantID, name string) string {
	return restaurantID + "|" + name
}

// Orders

type queries struct{ s *Store }

func (q queries) CountContending(_ context.Context, deliveryTime time.Time, tables []string) (int, error) {
	n := 0
	for _, o := range q.s.orders {
		if o.OrderStatus == models.StatusCancelled || !o.DeliveryTime.Equal(deliveryTime) {
			continue
		}
		if sharesTable(o.Table, tables) {
			n++
		}
	}
	return n, nil
}

func (q queries) CountReorders(_ context.Context, originID string) (int, error) {
	n := 0
	for _, o := range q.s.orders {
		if o.ReOrder != nil && o.ReOrder.OrderID == originID {
			n++
		}
	}
	return n, nil
}

func sharesTable(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (s *Store) CountContending(ctx context.Context, deliveryTime time.Time, tables []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s}.CountContending(ctx, deliveryTime, tables)
}

func (s *Store) CountReorders(ctx context.Context, originID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s}.CountReorders(ctx, originID)
}

func (s *Store) Insert(ctx context.Context, o *models.Order, prepare func(ctx context.Context, q store.OrderQueries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.numbers[o.Number]; taken {
		return store.ErrDuplicateNumber
	}
	if prepare != nil {
		if err := prepare(ctx, queries{s}); err != nil {
			return err
		}
	}

	s.orders[o.ID] = o.Clone()
	s.numbers[o.Number] = o.ID
	s.history[o.ID] = append(s.history[o.ID], models.StatusHistory{
		Status:    o.OrderStatus,
		ChangedBy: o.Actor(),
		ChangedAt: o.CreatedAt,
	})
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *Store) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	s.mu.RLock()
	id, ok := s.numbers[number]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

func (s *Store) Update(_ context.Context, o *models.Order, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.ID]
	if !ok {
		return apperr.ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return apperr.ErrStaleVersion
	}
	o.Version = expectedVersion + 1
	o.UpdatedAt = s.now().UTC()
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, mutate func(o *models.Order) (models.StatusChange, error)) (*models.Order, models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[id]
	if !ok {
		return nil, models.StatusChange{}, apperr.ErrOrderNotFound
	}
	o := cur.Clone()
	change, err := mutate(o)
	if err != nil {
		return nil, change, err
	}
	if !change.Changed {
		return cur.Clone(), change, nil
	}

	now := s.now().UTC()
	o.Version = cur.Version + 1
	o.UpdatedAt = now
	s.orders[id] = o.Clone()

	entry := models.StatusHistory{Status: change.To, ChangedBy: change.ChangedBy, ChangedAt: now}
	if change.Note != "" {
		note := change.Note
		entry.Notes = &note
	}
	s.history[id] = append(s.history[id], entry)

	if change.EnqueueCompletion {
		if _, exists := s.tasks[id]; !exists {
			s.tasks[id] = &store.TaskRecord{
				Task: models.CompletionTask{
					OrderID:      o.ID,
					OrderNumber:  o.Number,
					RestaurantID: o.Restaurant,
					EnqueuedAt:   now,
				},
				State:     store.TaskPending,
				UpdatedAt: now,
			}
		}
	}
	return o, change, nil
}

func (s *Store) Delete(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	delete(s.orders, id)
	delete(s.numbers, o.Number)
	delete(s.history, id)
	return o, nil
}

func (s *Store) ListByRestaurant(_ context.Context, restaurantID string, statuses []models.OrderStatus) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Order
	for _, o := range s.orders {
		if o.Restaurant != restaurantID || !statusIn(o.OrderStatus, statuses) {
			continue
		}
		out = append(out, o.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Order
	for _, o := range s.orders {
		if o.Customer == userID || o.Staff == userID || o.HasGuest(userID) {
			out = append(out, o.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) History(_ context.Context, orderID string) ([]models.StatusHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orders[orderID]; !ok {
		return nil, apperr.ErrOrderNotFound
	}
	return append([]models.StatusHistory(nil), s.history[orderID]...), nil
}

func statusIn(s models.OrderStatus, statuses []models.OrderStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func sortNewestFirst(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].Number > orders[j].Number
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
