package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeCatalog struct {
	menu   map[string]models.MenuItem
	combos map[string]models.Combo
}

func (f *fakeCatalog) MenuItems(_ context.Context, ids []string) (map[string]models.MenuItem, error) {
	out := make(map[string]models.MenuItem)
	for _, id := range ids {
		if m, ok := f.menu[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeCatalog) Combos(_ context.Context, ids []string) (map[string]models.Combo, error) {
	out := make(map[string]models.Combo)
	for _, id := range ids {
		if c, ok := f.combos[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

// fakeAdjuster decrements under a mutex and remembers applied orders.
type fakeAdjuster struct {
	mu      sync.Mutex
	stock   map[string]models.Quantity
	applied map[string]bool
}

func (f *fakeAdjuster) Apply(_ context.Context, orderID, _ string, ds []models.Deduction) ([]models.StockLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applied[orderID] {
		return nil, apperr.ErrAlreadyApplied
	}
	for _, dd := range ds {
		if _, ok := f.stock[dd.Ingredient]; !ok {
			return nil, apperr.NotFound("fake", "inventory item "+dd.Ingredient)
		}
	}
	var levels []models.StockLevel
	for _, dd := range ds {
		q := f.stock[dd.Ingredient]
		q.Magnitude = q.Magnitude.Sub(dd.Amount)
		f.stock[dd.Ingredient] = q
		levels = append(levels, models.StockLevel{Ingredient: dd.Ingredient, Quantity: q})
	}
	f.applied[orderID] = true
	return levels, nil
}

func newFixture() (*fakeCatalog, *fakeAdjuster) {
	catalog := &fakeCatalog{
		menu: map[string]models.MenuItem{
			"pizza": {ID: "pizza", Ingredients: []models.Ingredient{
				{Item: "flour", Quantity: d("0.3")},
				{Item: "cheese", Quantity: d("0.2")},
			}},
			"salad": {ID: "salad", Ingredients: []models.Ingredient{
				{Item: "lettuce", Quantity: d("0.1")},
				{Item: "cheese", Quantity: d("0.05")},
			}},
		},
		combos: map[string]models.Combo{
			"meal": {ID: "meal", Items: []models.ComboEntry{{MenuItem: "pizza", Quantity: 1}, {MenuItem: "salad", Quantity: 2}}},
		},
	}
	adjuster := &fakeAdjuster{
		stock: map[string]models.Quantity{
			"flour":   {Magnitude: d("50"), Unit: "kg"},
			"cheese":  {Magnitude: d("10"), Unit: "kg"},
			"lettuce": {Magnitude: d("0.1"), Unit: "kg"},
		},
		applied: map[string]bool{},
	}
	return catalog, adjuster
}

func TestLedger_PlanExpandsCombos(t *testing.T) {
	catalog, adjuster := newFixture()
	l := NewLedger(catalog, adjuster, logger.Discard())

	o := &models.Order{ID: "o1", Items: []models.LineItem{
		{Item: "pizza", Quantity: 2},
		{Combo: "meal", Quantity: 1},
	}}
	ds, err := l.Plan(context.Background(), o)
	require.NoError(t, err)

	require.Len(t, ds, 3)
	assert.Equal(t, "cheese", ds[0].Ingredient)
	// pizza x3 -> 0.6, salad x2 -> 0.1
	assert.True(t, d("0.7").Equal(ds[0].Amount), ds[0].Amount.String())
	assert.Equal(t, "flour", ds[1].Ingredient)
	assert.True(t, d("0.9").Equal(ds[1].Amount))
	assert.Equal(t, "lettuce", ds[2].Ingredient)
	assert.True(t, d("0.2").Equal(ds[2].Amount))
}

func TestLedger_DeductOnce(t *testing.T) {
	catalog, adjuster := newFixture()
	l := NewLedger(catalog, adjuster, logger.Discard())
	o := &models.Order{ID: "o1", Restaurant: "r1", Items: []models.LineItem{{Item: "pizza", Quantity: 2}}}

	res, err := l.Deduct(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	assert.Equal(t, "49.4 kg", adjuster.stock["flour"].String())

	res, err = l.Deduct(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)
	assert.Equal(t, "49.4 kg", adjuster.stock["flour"].String())
}

func TestLedger_ConcurrentDeductSameOrder(t *testing.T) {
	catalog, adjuster := newFixture()
	l := NewLedger(catalog, adjuster, logger.Discard())
	o := &models.Order{ID: "o1", Restaurant: "r1", Items: []models.LineItem{{Item: "pizza", Quantity: 1}}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Deduct(context.Background(), o)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, "49.7 kg", adjuster.stock["flour"].String())
}

func TestLedger_LowStockWarning(t *testing.T) {
	catalog, adjuster := newFixture()
	l := NewLedger(catalog, adjuster, logger.Discard())
	o := &models.Order{ID: "o2", Items: []models.LineItem{{Item: "salad", Quantity: 3}}}

	res, err := l.Deduct(context.Background(), o)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "lettuce", res.Warnings[0].Ingredient)
	assert.Equal(t, "-0.2 kg", res.Warnings[0].Remaining.String())
}

func TestLedger_MissingReferences(t *testing.T) {
	catalog, adjuster := newFixture()
	l := NewLedger(catalog, adjuster, logger.Discard())

	_, err := l.Deduct(context.Background(), &models.Order{ID: "o3", Items: []models.LineItem{{Item: "soup", Quantity: 1}}})
	assert.True(t, apperr.IsNotFound(err))

	_, err = l.Deduct(context.Background(), &models.Order{ID: "o4", Items: []models.LineItem{{Combo: "gone", Quantity: 1}}})
	assert.True(t, apperr.IsNotFound(err))

	delete(adjuster.stock, "cheese")
	_, err = l.Deduct(context.Background(), &models.Order{ID: "o5", Items: []models.LineItem{{Item: "pizza", Quantity: 1}}})
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, "50 kg", adjuster.stock["flour"].String())
}
