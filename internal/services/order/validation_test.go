package order

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

func TestValidateOrderRequest(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name   string
		mutate func(r *models.OrderRequest)
		field  string
	}{
		{
			name:   "valid request",
			mutate: func(r *models.OrderRequest) {},
		},
		{
			name:   "missing restaurant",
			mutate: func(r *models.OrderRequest) { r.Restaurant = "" },
			field:  "restaurant",
		},
		{
			name:   "unknown order type",
			mutate: func(r *models.OrderRequest) { r.OrderType = "drive-thru" },
			field:  "orderType",
		},
		{
			name:   "unknown payment method",
			mutate: func(r *models.OrderRequest) { r.PaymentMethod = "crypto" },
			field:  "paymentMethod",
		},
		{
			name:   "no customer and no staff",
			mutate: func(r *models.OrderRequest) { r.Customer = "" },
			field:  "customer",
		},
		{
			name:   "dine-in without table",
			mutate: func(r *models.OrderRequest) { r.Table = nil },
			field:  "table",
		},
		{
			name: "pickup without table",
			mutate: func(r *models.OrderRequest) {
				r.OrderType = models.Pickup
				r.Table = nil
			},
		},
		{
			name:   "no items",
			mutate: func(r *models.OrderRequest) { r.Items = nil },
			field:  "items",
		},
		{
			name:   "zero quantity",
			mutate: func(r *models.OrderRequest) { r.Items[0].Quantity = 0 },
			field:  "items[0].quantity",
		},
		{
			name:   "negative price",
			mutate: func(r *models.OrderRequest) { r.Items[0].Price = decimal.NewFromInt(-1) },
			field:  "items[0].price",
		},
		{
			name:   "item and combo together",
			mutate: func(r *models.OrderRequest) { r.Items[0].Combo = "duo" },
			field:  "items[0].item",
		},
		{
			name:   "neither item nor combo",
			mutate: func(r *models.OrderRequest) { r.Items[0].Item = "" },
			field:  "items[0].item",
		},
		{
			name:   "negative tip",
			mutate: func(r *models.OrderRequest) { r.Tip = decimal.RequireFromString("-0.5") },
			field:  "tip",
		},
		{
			name:   "instructions too long",
			mutate: func(r *models.OrderRequest) { r.Instructions = strings.Repeat("x", 501) },
			field:  "instructions",
		},
		{
			name: "guest addon without id",
			mutate: func(r *models.OrderRequest) {
				r.Items[0].Customers = []models.GuestAllocation{{
					CustomerID: "u1", Quantity: 1,
					Addons: []models.Addon{{Quantity: 1, Price: decimal.NewFromInt(1)}},
				}}
			},
			field: "items[0].customer[0].addon[0].id",
		},
		{
			name: "guest shares exceed quantity",
			mutate: func(r *models.OrderRequest) {
				r.Items[0].Customers = []models.GuestAllocation{
					{CustomerID: "u1", Quantity: 2},
					{CustomerID: "u2", Quantity: 1},
				}
			},
			field: "items[0].customer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(req)
			err := v.ValidateOrderRequest(req)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			var fields []string
			for _, f := range apperr.FieldsOf(err) {
				fields = append(fields, f.Field)
				assert.NotEmpty(t, f.Message)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidateOrderRequest_ReportsEveryField(t *testing.T) {
	req := baseRequest()
	req.Restaurant = ""
	req.PaymentType = ""
	req.Items[0].Quantity = 0

	err := NewValidator().ValidateOrderRequest(req)
	require.Error(t, err)
	assert.Len(t, apperr.FieldsOf(err), 3)
}

func TestValidateStatusUpdate(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateStatusUpdate(&models.StatusUpdateRequest{ChangedBy: "chef", Notes: "ok"}))

	err := v.ValidateStatusUpdate(&models.StatusUpdateRequest{Notes: strings.Repeat("n", 501)})
	require.Error(t, err)
	require.Len(t, apperr.FieldsOf(err), 1)
	assert.Equal(t, "notes", apperr.FieldsOf(err)[0].Field)
}
