package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/inventory"
	"restaurant-orders/internal/invoice"
	"restaurant-orders/internal/loyalty"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/store"
	"restaurant-orders/internal/tax"
)

var (
	_ store.Orders       = (*OrderRepository)(nil)
	_ store.Catalog      = (*CatalogRepository)(nil)
	_ store.Tasks        = (*TaskRepository)(nil)
	_ tax.Lookup         = (*CatalogRepository)(nil)
	_ inventory.Catalog  = (*CatalogRepository)(nil)
	_ inventory.Adjuster = (*EffectRepository)(nil)
	_ invoice.Registry   = (*EffectRepository)(nil)
	_ loyalty.Creditor   = (*EffectRepository)(nil)
)

// fakeRow replays orderArgs through Scan.
type fakeRow struct {
	values []interface{}
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]string:
			*d = v.([]string)
		case *[]byte:
			*d = v.([]byte)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case **time.Time:
			*d = v.(*time.Time)
		case **string:
			*d = v.(*string)
		case *models.Category:
			*d = models.Category(v.(string))
		case *models.OrderType:
			*d = models.OrderType(v.(string))
		case *models.OrderFrom:
			*d = models.OrderFrom(v.(string))
		case *models.PaymentType:
			*d = models.PaymentType(v.(string))
		case *models.PaymentMethod:
			*d = models.PaymentMethod(v.(string))
		case *models.OrderStatus:
			*d = models.OrderStatus(v.(string))
		default:
			return fmt.Errorf("scan: unsupported destination %T at %d", dest[i], i)
		}
	}
	return nil
}

func TestOrderArgsRoundTrip(t *testing.T) {
	start := time.Date(2026, 6, 1, 18, 40, 0, 0, time.UTC)
	o := &models.Order{
		ID:            "o-1",
		Number:        "ORD_20260601_ABC234",
		Customer:      "u1",
		Guests:        []string{"u1", "u2"},
		Restaurant:    "r1",
		Category:      models.Vegetarian,
		OrderType:     models.DineIn,
		OrderFrom:     models.FromCustomer,
		PaymentType:   models.PaymentSplit,
		PaymentMethod: models.PaymentOnline,
		Items: []models.LineItem{{
			Item: "m1", Quantity: 2, Price: decimal.NewFromInt(10),
			TotalPrice: models.ItemTotals{ItemPrice: decimal.NewFromInt(20), AddonPrice: decimal.Zero, Total: decimal.NewFromInt(20)},
		}},
		Price:           models.Price{Subtotal: decimal.NewFromInt(20), Tax: decimal.NewFromInt(1), Total: decimal.NewFromInt(21), Points: 21},
		OrderStatus:     models.StatusPreparing,
		PreparationTime: models.PreparationTime{Start: &start},
		Table:           []string{"T1"},
		ReOrder:         &models.ReOrder{OrderID: "o-0", Count: 2},
		DeliveryTime:    time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC),
		Version:         3,
		CreatedAt:       start,
		UpdatedAt:       start,
	}

	args, err := orderArgs(o)
	require.NoError(t, err)
	require.Len(t, args, 29)

	back, err := scanOrder(fakeRow{values: args})
	require.NoError(t, err)
	assert.Equal(t, o.ID, back.ID)
	assert.Equal(t, o.Guests, back.Guests)
	assert.Equal(t, o.Table, back.Table)
	assert.Equal(t, o.ReOrder, back.ReOrder)
	assert.Equal(t, o.PreparationTime.Start, back.PreparationTime.Start)
	assert.True(t, o.Price.Total.Equal(back.Price.Total))
	assert.True(t, o.Items[0].TotalPrice.Total.Equal(back.Items[0].TotalPrice.Total))
	assert.Equal(t, models.StatusPreparing, back.OrderStatus)
	assert.Equal(t, 3, back.Version)
}

func TestOrderArgs_EmptyArrays(t *testing.T) {
	args, err := orderArgs(&models.Order{ID: "o-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{}, args[4])
	assert.Equal(t, []string{}, args[19])
	assert.Nil(t, args[20].(*string))
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "orders_number_key"})
	assert.True(t, isUniqueViolation(err, "orders_number_key"))
	assert.False(t, isUniqueViolation(err, "invoices_order_id_key"))
	assert.False(t, isUniqueViolation(errors.New("boom"), "orders_number_key"))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, wrap("op", nil))
	assert.Same(t, apperr.ErrOrderNotFound, wrap("op", apperr.ErrOrderNotFound))
	assert.ErrorIs(t, wrap("op", store.ErrDuplicateNumber), store.ErrDuplicateNumber)
	assert.ErrorIs(t, wrap("op", apperr.ErrAlreadyApplied), apperr.ErrAlreadyApplied)

	err := wrap("op", context.DeadlineExceeded)
	assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
